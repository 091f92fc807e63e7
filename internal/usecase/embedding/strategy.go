package embedding

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/metrics"
)

// DefaultChunkSize is the number of texts per model server round trip in bulk and streaming modes.
const DefaultChunkSize = 256

// Request is one embed call: the texts of one model, in order.
type Request struct {
	Texts     []string
	ChunkSize int
}

func (r Request) chunkSize() int {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	return DefaultChunkSize
}

// Item is the outcome for one input text. Err is nil on success.
type Item struct {
	Index  int
	Vector []float32
	Err    error
}

// Result holds one Item per input text, in input order.
type Result struct {
	Items       []Item
	TotalTokens int
}

// Failed counts items with an error.
func (r Result) Failed() int {
	n := 0
	for i := range r.Items {
		if r.Items[i].Err != nil {
			n++
		}
	}
	return n
}

// Chunk is one streaming delivery. Err ends the stream.
type Chunk struct {
	Offset      int
	Items       []Item
	TotalTokens int
	Err         error
}

// Strategy is one way of talking to a model server.
type Strategy interface {
	Mode() domain.EmbedMode
	Embed(ctx context.Context, m *Model, req Request) (Result, error)
}

// --- realtime / hybrid ---

// directStrategy blocks for all texts in one call. Any failure fails the request.
type directStrategy struct {
	mode domain.EmbedMode
}

// Realtime returns the strategy that always asks the model server.
func Realtime() Strategy { return directStrategy{mode: domain.EmbedRealtime} }

// Hybrid returns the strategy that serves cached embeddings first.
func Hybrid() Strategy { return directStrategy{mode: domain.EmbedHybrid} }

func (s directStrategy) Mode() domain.EmbedMode { return s.mode }

func (s directStrategy) Embed(ctx context.Context, m *Model, req Request) (Result, error) {
	res, err := domain.BatchEmbed(ctx, m.embedder(s.mode), req.Texts)
	if err != nil {
		return Result{}, err
	}
	if len(res.Embeddings) != len(req.Texts) {
		return Result{}, fmt.Errorf("model %q returned %d vectors for %d texts: %w",
			m.name, len(res.Embeddings), len(req.Texts), domain.ErrInternal)
	}
	items := make([]Item, len(req.Texts))
	for i, v := range res.Embeddings {
		items[i] = Item{Index: i, Vector: v}
	}
	return Result{Items: items, TotalTokens: res.TotalTokens}, nil
}

// --- bulk ---

type bulkStrategy struct{}

// Bulk returns the strategy that embeds in chunks and reports per-item status.
// A chunk the model server rejects as a client error is retried text by text so one
// bad input does not fail its neighbours. A backend failure fails every remaining item
// without further calls.
func Bulk() Strategy { return bulkStrategy{} }

func (bulkStrategy) Mode() domain.EmbedMode { return domain.EmbedBulk }

func (bulkStrategy) Embed(ctx context.Context, m *Model, req Request) (Result, error) {
	items := make([]Item, len(req.Texts))
	size := req.chunkSize()
	var tokens int

	for offset := 0; offset < len(req.Texts); offset += size {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		end := min(offset+size, len(req.Texts))
		chunk := req.Texts[offset:end]

		res, err := m.realtime.BatchEmbed(ctx, chunk)
		if err == nil && len(res.Embeddings) != len(chunk) {
			err = fmt.Errorf("model %q returned %d vectors for %d texts: %w",
				m.name, len(res.Embeddings), len(chunk), domain.ErrInternal)
		}
		if err == nil {
			for i, v := range res.Embeddings {
				items[offset+i] = Item{Index: offset + i, Vector: v}
			}
			tokens += res.TotalTokens
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}

		if !domain.IsClientError(err) {
			for i := offset; i < len(req.Texts); i++ {
				items[i] = Item{Index: i, Err: err}
			}
			break
		}

		for i, text := range chunk {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			one, err := m.realtime.Embed(ctx, text)
			items[offset+i] = Item{Index: offset + i, Vector: one.Embedding, Err: err}
			tokens += one.TotalTokens
		}
	}
	return Result{Items: items, TotalTokens: tokens}, nil
}

// --- streaming ---

type streamingStrategy struct{}

// Streaming returns the strategy that delivers chunks as they complete.
func Streaming() Strategy { return streamingStrategy{} }

func (streamingStrategy) Mode() domain.EmbedMode { return domain.EmbedStreaming }

// Embed drains the stream into one Result.
func (s streamingStrategy) Embed(ctx context.Context, m *Model, req Request) (Result, error) {
	items := make([]Item, 0, len(req.Texts))
	var tokens int
	for c := range s.Stream(ctx, m, req) {
		if c.Err != nil {
			return Result{}, c.Err
		}
		items = append(items, c.Items...)
		tokens += c.TotalTokens
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Items: items, TotalTokens: tokens}, nil
}

// Stream embeds chunks sequentially and sends each on the returned channel.
// The channel is closed after the last chunk, after a failed chunk, or once ctx is done;
// cancelling ctx aborts the in-flight model server call.
func (streamingStrategy) Stream(ctx context.Context, m *Model, req Request) <-chan Chunk {
	out := make(chan Chunk)
	size := req.chunkSize()

	go func() {
		defer close(out)
		for offset := 0; offset < len(req.Texts); offset += size {
			end := min(offset+size, len(req.Texts))
			res, err := m.realtime.BatchEmbed(ctx, req.Texts[offset:end])

			c := Chunk{Offset: offset}
			switch {
			case err != nil:
				c.Err = err
			case len(res.Embeddings) != end-offset:
				c.Err = fmt.Errorf("model %q returned %d vectors for %d texts: %w",
					m.name, len(res.Embeddings), end-offset, domain.ErrInternal)
			default:
				c.TotalTokens = res.TotalTokens
				c.Items = make([]Item, len(res.Embeddings))
				for i, v := range res.Embeddings {
					c.Items[i] = Item{Index: offset + i, Vector: v}
				}
			}

			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
			if c.Err != nil {
				return
			}
		}
	}()
	return out
}

func countStrategy(mode domain.EmbedMode, err error) {
	status := "ok"
	if err != nil {
		status = string(domain.KindOf(err))
	}
	metrics.EmbedStrategyTotal.WithLabelValues(string(mode), status).Inc()
}
