package db

import "github.com/kailas-cloud/vecgate/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
	// Distance selects how __vector_score is turned into a score:
	// COSINE and IP become similarity (1 - d), L2 becomes Euclidean distance.
	Distance DistanceMetric
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
