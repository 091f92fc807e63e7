// Package modelhttp implements the plain HTTP model server connector:
// POST {"texts": [...]} and receive {"embeddings": [[...], ...]} in input order.
package modelhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/metrics"
)

const maxErrorBody = 4 << 10

// Config holds the model server settings.
type Config struct {
	// URL is the embed endpoint.
	URL string
	// HealthURL is fetched with GET by HealthCheck. Empty means a one-text embed.
	HealthURL string
	Token     string
	Model     string
	Identity  string
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Client is a model server reached over the {texts} wire contract.
type Client struct {
	url        string
	healthURL  string
	token      string
	model      string
	identity   string
	httpClient *http.Client
	logger     *zap.Logger
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Usage      *struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// New creates a model server client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("modelhttp: missing url")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	identity := cfg.Identity
	if identity == "" {
		identity = cfg.URL
	}
	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		healthURL:  cfg.HealthURL,
		token:      cfg.Token,
		model:      cfg.Model,
		identity:   identity,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Identity returns the backend identity.
func (c *Client) Identity() string { return c.identity }

// Embed implements domain.Embedder.
func (c *Client) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    res.Embeddings[0],
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// BatchEmbed sends all texts in one round trip.
func (c *Client) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	start := time.Now()
	var out embedResponse
	err := c.postJSON(ctx, embedRequest{Texts: texts}, &out)
	duration := time.Since(start)
	if err != nil {
		c.countError(errorType(err))
		return domain.BatchEmbeddingResult{}, err
	}
	if len(out.Embeddings) != len(texts) {
		c.countError("count_mismatch")
		return domain.BatchEmbeddingResult{}, fmt.Errorf("model server returned %d embeddings for %d texts: %w",
			len(out.Embeddings), len(texts), domain.ErrInternal)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(c.identity, c.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(c.identity, c.model).Observe(duration.Seconds())

	res := domain.BatchEmbeddingResult{Embeddings: out.Embeddings}
	if out.Usage != nil {
		res.PromptTokens = out.Usage.PromptTokens
		res.TotalTokens = out.Usage.TotalTokens
		metrics.EmbeddingTokensTotal.WithLabelValues(c.identity, c.model, "total").Add(float64(res.TotalTokens))
	}
	return res, nil
}

// HealthCheck fetches the health URL, or embeds a single short text when none is set.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.healthURL == "" {
		_, err := c.BatchEmbed(ctx, []string{"ping"})
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("health %s: http %d: %w", c.healthURL, resp.StatusCode, domain.ErrInternal)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("model server http %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(msg)), kindForStatus(resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, domain.ErrInternal)
	}
	return nil
}

func (c *Client) countError(kind string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(c.identity, c.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(c.identity, c.model, kind).Inc()
}

func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return fmt.Errorf("model server: %w", context.Canceled)
	}
	var ne interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("model server: %w", domain.ErrTimeout)
	}
	return fmt.Errorf("model server: %v: %w", err, domain.ErrInternal)
}

func kindForStatus(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return domain.ErrResourceExhausted
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return domain.ErrInvalidArgument
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return domain.ErrTimeout
	default:
		return domain.ErrInternal
	}
}

func errorType(err error) string {
	switch domain.KindOf(err) {
	case domain.KindTimeout:
		return "timeout"
	case domain.KindResourceExhausted:
		return "rate_limited"
	case domain.KindInvalidArgument:
		return "bad_request"
	default:
		return "api_error"
	}
}
