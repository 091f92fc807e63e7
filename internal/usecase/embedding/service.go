// Package embedding routes embed requests to named model servers through an
// EmbedStrategy chosen per request.
package embedding

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

// Service holds the configured models and strategies.
type Service struct {
	models     map[string]*Model
	strategies map[domain.EmbedMode]Strategy
	chunkSize  int
	logger     *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithChunkSize overrides DefaultChunkSize for bulk and streaming.
func WithChunkSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewService creates the embedding service.
func NewService(models []*Model, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		models:    make(map[string]*Model, len(models)),
		chunkSize: DefaultChunkSize,
		logger:    logger,
		strategies: map[domain.EmbedMode]Strategy{
			domain.EmbedRealtime:  Realtime(),
			domain.EmbedHybrid:    Hybrid(),
			domain.EmbedBulk:      Bulk(),
			domain.EmbedStreaming: Streaming(),
		},
	}
	for _, m := range models {
		s.models[m.Name()] = m
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model registered under name.
func (s *Service) Model(name string) (*Model, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, domain.ErrNotFound)
	}
	return m, nil
}

// Models returns all models sorted by name.
func (s *Service) Models() []*Model {
	out := make([]*Model, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Embed runs texts through the strategy for mode.
func (s *Service) Embed(ctx context.Context, model string, mode domain.EmbedMode, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{}, domain.InvalidArgumentf("no texts to embed")
	}
	m, err := s.Model(model)
	if err != nil {
		return Result{}, err
	}
	strategy, ok := s.strategies[mode]
	if !ok {
		return Result{}, domain.InvalidArgumentf("unknown embed mode %q", mode)
	}

	res, err := strategy.Embed(ctx, m, Request{Texts: texts, ChunkSize: s.chunkSize})
	countStrategy(mode, err)
	if err != nil {
		return Result{}, fmt.Errorf("%s embed with %q: %w", mode, model, err)
	}
	if n := res.Failed(); n > 0 {
		s.logger.Warn("embed items failed",
			zap.String("model", model),
			zap.String("mode", string(mode)),
			zap.Int("failed", n),
			zap.Int("total", len(texts)),
		)
	}
	return res, nil
}

// EmbedQuery embeds a single search query text. Only realtime and hybrid apply to queries.
func (s *Service) EmbedQuery(ctx context.Context, model string, mode domain.EmbedMode, text string) ([]float32, error) {
	if text == "" {
		return nil, domain.InvalidArgumentf("empty query text")
	}
	if mode != domain.EmbedRealtime && mode != domain.EmbedHybrid {
		return nil, domain.InvalidArgumentf("embed mode %q does not apply to queries", mode)
	}
	m, err := s.Model(model)
	if err != nil {
		return nil, err
	}

	res, err := m.queryEmbedder(mode).Embed(ctx, text)
	countStrategy(mode, err)
	if err != nil {
		return nil, fmt.Errorf("embed query with %q: %w", model, err)
	}
	return res.Embedding, nil
}

// Stream embeds texts chunk by chunk with the streaming strategy.
func (s *Service) Stream(ctx context.Context, model string, texts []string) (<-chan Chunk, error) {
	if len(texts) == 0 {
		return nil, domain.InvalidArgumentf("no texts to embed")
	}
	m, err := s.Model(model)
	if err != nil {
		return nil, err
	}
	countStrategy(domain.EmbedStreaming, nil)
	return streamingStrategy{}.Stream(ctx, m, Request{Texts: texts, ChunkSize: s.chunkSize}), nil
}
