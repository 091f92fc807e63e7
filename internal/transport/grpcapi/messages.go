package grpcapi

import (
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/search/filter"
)

// SearchRequest is the Search input. Either Vector or Text must be set.
type SearchRequest struct {
	Collection string       `json:"collection"`
	Vector     []float32    `json:"vector,omitempty"`
	Text       string       `json:"text,omitempty"`
	EmbedMode  string       `json:"embed_mode,omitempty"`
	Limit      int          `json:"limit,omitempty"`
	Filter     *filter.Spec `json:"filter,omitempty"`
}

// SearchResponse carries the hits in rank order.
type SearchResponse struct {
	Hits  []domain.ScoredRecord `json:"hits"`
	Cache string                `json:"cache,omitempty"`
}

// UpsertRequest is the Upsert and BatchUpsert input.
type UpsertRequest struct {
	Collection string          `json:"collection"`
	Records    []domain.Record `json:"records"`
}

// DeleteRequest removes ids from a collection.
type DeleteRequest struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// WriteResponse acknowledges a write.
type WriteResponse struct {
	Affected int `json:"affected"`
}

// ItemStatus is the outcome of one batch record or embedded text.
type ItemStatus struct {
	ID      string    `json:"id,omitempty"`
	Index   int       `json:"index"`
	Status  string    `json:"status"`
	Vector  []float32 `json:"vector,omitempty"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
}

// BatchUpsertResponse has one item per input record, in input order.
type BatchUpsertResponse struct {
	Items     []ItemStatus `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// EmbedRequest is the StreamEmbed input.
type EmbedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// EmbedChunk is one streamed chunk; Offset is the index of its first text.
type EmbedChunk struct {
	Offset      int          `json:"offset"`
	Items       []ItemStatus `json:"items"`
	TotalTokens int          `json:"total_tokens"`
}
