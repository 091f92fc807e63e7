package vecgate

import (
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// Record is a vector with its id and payload. Text is embedded server-side
// with the collection's bound model when Vector is empty.
type Record = domain.Record

// Hit is a single search result. Score is similarity for cosine and dot
// collections and distance for euclidean ones.
type Hit = domain.ScoredRecord

// EmbedMode selects how text is embedded by the gateway.
type EmbedMode string

// Embed mode constants.
const (
	EmbedRealtime  EmbedMode = "realtime"
	EmbedHybrid    EmbedMode = "hybrid"
	EmbedBulk      EmbedMode = "bulk"
	EmbedStreaming EmbedMode = "streaming"
)

// Filter is a set of must/should/must_not conditions.
type Filter = filter.Spec

// FilterCondition is a single filter clause.
type FilterCondition = filter.ConditionSpec

// RangeFilter defines numeric range boundaries.
type RangeFilter = filter.RangeSpec

// SearchResult is a ranked hit list and the cache outcome ("hit", "miss" or empty).
type SearchResult struct {
	Hits  []Hit
	Cache string
}

// BatchItem is the outcome of one record in a batch upsert.
type BatchItem struct {
	ID    string
	Index int
	OK    bool
	Err   error
}

// BatchResult has one item per input record, in input order.
type BatchResult struct {
	Items     []BatchItem
	Succeeded int
	Failed    int
}

// EmbedChunk is one completed chunk of a stream. Offset is the index of
// its first text in the request.
type EmbedChunk struct {
	Offset      int
	Vectors     [][]float32
	TotalTokens int
}
