package domain

import (
	"context"
	"fmt"
	"strings"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single model server round trip.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies model server availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelServer is one named embedding backend.
type ModelServer interface {
	Embedder
	BatchEmbedder
	HealthChecker
	Identity() string
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
	Cached       bool
}

// BatchEmbeddingResult carries multiple embedding vectors and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// EmbedMode selects how a request talks to a model server.
type EmbedMode string

// Embed modes.
const (
	// EmbedRealtime blocks for a fresh embedding.
	EmbedRealtime EmbedMode = "realtime"
	// EmbedHybrid serves a cached embedding when present, realtime otherwise.
	EmbedHybrid EmbedMode = "hybrid"
	// EmbedBulk embeds many texts per round trip and reports per-item status.
	EmbedBulk EmbedMode = "bulk"
	// EmbedStreaming delivers embeddings chunk by chunk as they complete.
	EmbedStreaming EmbedMode = "streaming"
)

// ParseEmbedMode maps a request value to an EmbedMode. Empty means hybrid.
func ParseEmbedMode(s string) (EmbedMode, error) {
	switch EmbedMode(strings.ToLower(s)) {
	case "":
		return EmbedHybrid, nil
	case EmbedRealtime:
		return EmbedRealtime, nil
	case EmbedHybrid:
		return EmbedHybrid, nil
	case EmbedBulk:
		return EmbedBulk, nil
	case EmbedStreaming:
		return EmbedStreaming, nil
	default:
		return "", InvalidArgumentf("unknown embed mode %q", s)
	}
}

// BatchFallback calls Embed once per text, for model servers without a batch endpoint.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEmbeddingResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}

// BatchEmbed uses e's native batch call when it has one.
func BatchEmbed(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return BatchFallback(ctx, e, texts)
}

// InstructionEmbedder prepends a model-specific instruction before embedding
// (e.g. "query: " for E5-style models).
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// BatchEmbed prepends instruction to each text and delegates to the inner batch call,
// falling back to one Embed per text.
func (e *InstructionEmbedder) BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.instruction + t
	}

	res, err := BatchEmbed(ctx, e.inner, prefixed)
	if err != nil {
		return BatchEmbeddingResult{}, fmt.Errorf("instruction batch embed: %w", err)
	}
	return res, nil
}
