package collection

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// DefaultBatchLimit caps search limits and batch sizes when a collection does not set one.
const DefaultBatchLimit = 1000

// Metric is the distance metric of a collection.
type Metric string

// Supported distance metrics.
const (
	Cosine    Metric = "cosine"
	Dot       Metric = "dot"
	Euclidean Metric = "euclidean"
)

// ParseMetric accepts the canonical names case-insensitively plus the common aliases.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cosine", "cos":
		return Cosine, nil
	case "dot", "ip", "inner_product":
		return Dot, nil
	case "euclidean", "l2", "euclid":
		return Euclidean, nil
	default:
		return "", fmt.Errorf("unsupported distance metric %q (want cosine, dot or euclidean)", s)
	}
}

// IsValid reports whether m is one of the supported metrics.
func (m Metric) IsValid() bool {
	return m == Cosine || m == Dot || m == Euclidean
}

// Algorithm is the ANN index algorithm hint forwarded to the vector store.
type Algorithm string

// Index algorithms.
const (
	HNSW Algorithm = "hnsw"
	Flat Algorithm = "flat"
)

// IndexHints are advisory index parameters. Stores ignore what they do not support.
type IndexHints struct {
	Algorithm      Algorithm
	M              int
	EfConstruction int
}

// Option customizes a Config at construction.
type Option func(*Config)

// WithHints sets index hints.
func WithHints(h IndexHints) Option { return func(c *Config) { c.hints = h } }

// WithBoundModel binds the collection to a model server used to embed query text.
func WithBoundModel(model string) Option { return func(c *Config) { c.boundModel = model } }

// WithBatchLimit overrides DefaultBatchLimit.
func WithBatchLimit(n int) Option { return func(c *Config) { c.batchLimit = n } }

// WithFields declares indexed payload fields.
func WithFields(fields ...field.Field) Option {
	return func(c *Config) { c.fields = append([]field.Field(nil), fields...) }
}

// Config is the per-collection routing configuration (immutable value object).
// A changed collection is a new Config installed by the registry; existing values are never mutated.
type Config struct {
	name       string
	dimension  int
	metric     Metric
	hints      IndexHints
	boundModel string
	batchLimit int
	fields     []field.Field
	createdAt  int64
	revision   int
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("collection name too long (max 64)")
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("collection name must be alphanumeric with underscores and hyphens")
	}
	return nil
}

func validateFields(fields []field.Field) error {
	if len(fields) > 64 {
		return fmt.Errorf("too many fields (max 64)")
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name()] {
			return fmt.Errorf("duplicate field name: %s", f.Name())
		}
		seen[f.Name()] = true
	}
	return nil
}

// New validates and creates a Config.
// Name: ^[a-zA-Z0-9_-]+$, 1-64 chars. Dimension: > 0. Metric: cosine, dot or euclidean.
func New(name string, dimension int, metric Metric, opts ...Option) (Config, error) {
	if err := validateName(name); err != nil {
		return Config{}, err
	}
	if dimension <= 0 {
		return Config{}, fmt.Errorf("vector dimension must be positive")
	}
	if !metric.IsValid() {
		return Config{}, fmt.Errorf("unsupported distance metric %q", metric)
	}

	c := Config{
		name:       name,
		dimension:  dimension,
		metric:     metric,
		hints:      IndexHints{Algorithm: HNSW},
		batchLimit: DefaultBatchLimit,
		createdAt:  time.Now().UnixMilli(),
		revision:   1,
	}
	for _, opt := range opts {
		opt(&c)
	}

	if c.batchLimit <= 0 {
		return Config{}, fmt.Errorf("batch limit must be positive")
	}
	switch c.hints.Algorithm {
	case "":
		c.hints.Algorithm = HNSW
	case HNSW, Flat:
	default:
		return Config{}, fmt.Errorf("unsupported index algorithm %q", c.hints.Algorithm)
	}
	if err := validateFields(c.fields); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Reconstruct creates a Config without validation (storage hydration).
func Reconstruct(
	name string, dimension int, metric Metric, hints IndexHints,
	boundModel string, batchLimit int, fields []field.Field,
	createdAt int64, revision int,
) Config {
	return Config{
		name:       name,
		dimension:  dimension,
		metric:     metric,
		hints:      hints,
		boundModel: boundModel,
		batchLimit: batchLimit,
		fields:     fields,
		createdAt:  createdAt,
		revision:   revision,
	}
}

// Successor returns c's replacement: same name and creation time, next revision.
func (c Config) Successor(next Config) Config {
	next.name = c.name
	next.createdAt = c.createdAt
	next.revision = c.revision + 1
	return next
}

// Name returns the collection name.
func (c Config) Name() string { return c.name }

// Dimension returns the vector dimension.
func (c Config) Dimension() int { return c.dimension }

// Metric returns the distance metric.
func (c Config) Metric() Metric { return c.metric }

// Hints returns the index hints.
func (c Config) Hints() IndexHints { return c.hints }

// BoundModel returns the model server name used for query text, or "".
func (c Config) BoundModel() string { return c.boundModel }

// BatchLimit returns the maximum search limit and batch size.
func (c Config) BatchLimit() int { return c.batchLimit }

// Fields returns the indexed payload fields.
func (c Config) Fields() []field.Field { return c.fields }

// CreatedAt returns the creation timestamp (unix millis).
func (c Config) CreatedAt() int64 { return c.createdAt }

// Revision returns the configuration version, bumped on every update.
func (c Config) Revision() int { return c.revision }

// FieldByName looks up an indexed field by name.
func (c Config) FieldByName(name string) (field.Field, bool) {
	for _, f := range c.fields {
		if f.Name() == name {
			return f, true
		}
	}
	return field.Field{}, false
}
