package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/collection/field"
	"github.com/kailas-cloud/vecgate/internal/registry"
	"github.com/kailas-cloud/vecgate/internal/vectorstore"
)

// Vector store drivers.
const (
	DriverQdrant = vectorstore.DriverQdrant
	DriverRedis  = vectorstore.DriverRedis
	DriverMemory = vectorstore.DriverMemory
)

// Model server drivers.
const (
	ModelDriverOpenAI = "openai"
	ModelDriverHTTP   = "http"
)

// Config holds the vecgate configuration.
type Config struct {
	HTTP        HTTPConfig             `yaml:"http"`
	GRPC        GRPCConfig             `yaml:"grpc"`
	VectorStore VectorStoreConfig      `yaml:"vector_store"`
	Redis       RedisConfig            `yaml:"redis"`
	Models      map[string]ModelConfig `yaml:"models"`
	Collections []CollectionConfig     `yaml:"collections"`
	Cache       CacheConfig            `yaml:"cache"`
	Resilience  ResilienceConfig       `yaml:"resilience"`
	Warming     WarmingConfig          `yaml:"warming"`
	NATS        NATSConfig             `yaml:"nats"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	Auth        AuthConfig             `yaml:"auth"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings shared by every ingress.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings. GraphQL is served on the same listener.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// GRPCConfig holds gRPC server settings. Port 0 disables the gRPC listener.
type GRPCConfig struct {
	Port              int `yaml:"port"`
	HealthIntervalSec int `yaml:"health_interval_sec"`
}

// VectorStoreConfig selects and configures the vector store driver.
type VectorStoreConfig struct {
	Driver string       `yaml:"driver"` // qdrant, redis, memory (default: memory)
	Qdrant QdrantConfig `yaml:"qdrant"`
	// HNSWM and HNSWEFConstruct apply to collections whose index hints leave them unset (redis driver).
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// RedisConfig holds the shared Redis/Valkey connection. It backs the L2 cache, the
// embedding cache, budget counters and collection persistence, and the redis vector store driver.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// Enabled reports whether a Redis connection is configured.
func (r RedisConfig) Enabled() bool { return len(r.Addrs) > 0 }

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ModelConfig configures one named model server.
type ModelConfig struct {
	Driver string `yaml:"driver"` // openai (default), http
	// URL is the embed endpoint of the http driver; BaseURL the API root of the openai driver.
	URL              string       `yaml:"url"`
	HealthURL        string       `yaml:"health_url"`
	BaseURL          string       `yaml:"base_url"`
	APIKey           string       `yaml:"api_key"`
	Model            string       `yaml:"model"`
	Dimensions       int          `yaml:"dimensions"`
	QueryInstruction string       `yaml:"query_instruction"`
	TimeoutSec       int          `yaml:"timeout_sec"`
	CacheTTLSec      int          `yaml:"cache_ttl_sec"`
	Budget           BudgetConfig `yaml:"budget"`
}

// CollectionConfig registers a collection at startup.
type CollectionConfig struct {
	Name       string        `yaml:"name"`
	Dimension  int           `yaml:"dimension"`
	Metric     string        `yaml:"metric"`
	BoundModel string        `yaml:"bound_model"`
	BatchLimit int           `yaml:"batch_limit"`
	Index      IndexConfig   `yaml:"index"`
	Fields     []FieldConfig `yaml:"fields"`
}

// IndexConfig holds per-collection index hints.
type IndexConfig struct {
	Algorithm      string `yaml:"algorithm"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
}

// FieldConfig declares an indexed payload field.
type FieldConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// CacheConfig configures both cache levels. Zero values take the defaults.
type CacheConfig struct {
	Disabled      bool  `yaml:"disabled"`
	L1TTLSec      int   `yaml:"l1_ttl_sec"`
	L1BudgetBytes int64 `yaml:"l1_budget_bytes"`
	L2Disabled    bool  `yaml:"l2_disabled"`
	L2TTLSec      int   `yaml:"l2_ttl_sec"`
	L2BudgetBytes int64 `yaml:"l2_budget_bytes"`
}

// RetryConfig is the backoff schedule of idempotent calls.
type RetryConfig struct {
	Attempts   int     `yaml:"attempts"`
	BaseMs     int     `yaml:"base_ms"`
	Multiplier float64 `yaml:"multiplier"`
	MaxSec     int     `yaml:"max_sec"`
	Jitter     float64 `yaml:"jitter"`
}

// TimeoutsConfig holds per-kind call deadlines.
type TimeoutsConfig struct {
	SearchSec int `yaml:"search_sec"`
	UpsertSec int `yaml:"upsert_sec"`
	DeleteSec int `yaml:"delete_sec"`
	EmbedSec  int `yaml:"embed_sec"`
}

// ResilienceConfig configures breakers, retries, bulkheads and timeouts.
type ResilienceConfig struct {
	FailureThreshold  int            `yaml:"failure_threshold"`
	ResetTimeoutSec   int            `yaml:"reset_timeout_sec"`
	Retry             RetryConfig    `yaml:"retry"`
	BulkheadLimit     int            `yaml:"bulkhead_limit"`
	BulkheadOverrides map[string]int `yaml:"bulkhead_overrides"`
	Timeouts          TimeoutsConfig `yaml:"timeouts"`
}

// WarmingConfig configures the cache warmer.
type WarmingConfig struct {
	Disabled      bool    `yaml:"disabled"`
	IntervalSec   int     `yaml:"interval_sec"`
	TopN          int     `yaml:"top_n"`
	Concurrency   int     `yaml:"concurrency"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// NATSConfig configures the cross-instance bus. An empty URL runs the instance standalone.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(FindConfigPath(env))
}

// LoadFile reads, defaults and validates the configuration at path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML with ${VAR} expansion, then applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.GRPC.HealthIntervalSec <= 0 {
		c.GRPC.HealthIntervalSec = 10
	}
	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = DriverMemory
	}
	if c.VectorStore.HNSWM <= 0 {
		c.VectorStore.HNSWM = 32
	}
	if c.VectorStore.HNSWEFConstruct <= 0 {
		c.VectorStore.HNSWEFConstruct = 400
	}
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	for name, m := range c.Models {
		if m.Driver == "" {
			m.Driver = ModelDriverOpenAI
		}
		if m.Model == "" {
			m.Model = name
		}
		c.Models[name] = m
	}
	if c.Telemetry.Enabled && c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("grpc.port must be between 0 and 65535, got %d", c.GRPC.Port)
	}
	if c.GRPC.Port != 0 && c.GRPC.Port == c.HTTP.Port {
		return fmt.Errorf("grpc.port must differ from http.port")
	}
	switch c.VectorStore.Driver {
	case DriverMemory:
	case DriverQdrant:
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("vector_store.qdrant.host is required")
		}
	case DriverRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis.addrs is required by the redis vector store")
		}
	default:
		return fmt.Errorf("vector_store.driver must be qdrant, redis or memory, got %q", c.VectorStore.Driver)
	}
	for _, name := range c.modelNames() {
		m := c.Models[name]
		switch m.Driver {
		case ModelDriverOpenAI:
		case ModelDriverHTTP:
			if m.URL == "" {
				return fmt.Errorf("models.%s.url is required by the http driver", name)
			}
		default:
			return fmt.Errorf("models.%s.driver must be openai or http, got %q", name, m.Driver)
		}
		switch m.Budget.Action {
		case "", "warn", "reject":
			// ok
		default:
			return fmt.Errorf(
				"models.%s.budget.action must be \"warn\" or \"reject\", got %q",
				name, m.Budget.Action,
			)
		}
	}
	for _, cc := range c.Collections {
		if cc.BoundModel != "" {
			if _, ok := c.Models[cc.BoundModel]; !ok {
				return fmt.Errorf("collections.%s.bound_model %q is not a configured model", cc.Name, cc.BoundModel)
			}
		}
	}
	if _, err := c.CollectionConfigs(); err != nil {
		return err
	}
	if err := c.Tunables().Validate(); err != nil {
		return fmt.Errorf("tunables: %w", err)
	}
	return nil
}

func (c *Config) modelNames() []string {
	names := make([]string, 0, len(c.Models))
	for n := range c.Models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ModelNames returns the configured model names, sorted.
func (c *Config) ModelNames() []string { return c.modelNames() }

// Tunables overlays the configured knobs on registry.DefaultTunables.
func (c *Config) Tunables() registry.Tunables {
	t := registry.DefaultTunables()

	t.Cache.Enabled = !c.Cache.Disabled
	t.Cache.L2Enabled = !c.Cache.L2Disabled && c.Redis.Enabled()
	setDuration(&t.Cache.L1TTL, c.Cache.L1TTLSec, time.Second)
	setDuration(&t.Cache.L2TTL, c.Cache.L2TTLSec, time.Second)
	if c.Cache.L1BudgetBytes > 0 {
		t.Cache.L1BudgetBytes = c.Cache.L1BudgetBytes
	}
	if c.Cache.L2BudgetBytes > 0 {
		t.Cache.L2BudgetBytes = c.Cache.L2BudgetBytes
	}

	r := c.Resilience
	if r.FailureThreshold > 0 {
		t.Resilience.FailureThreshold = r.FailureThreshold
	}
	setDuration(&t.Resilience.ResetTimeout, r.ResetTimeoutSec, time.Second)
	if r.Retry.Attempts > 0 {
		t.Resilience.Retry.Attempts = r.Retry.Attempts
	}
	setDuration(&t.Resilience.Retry.Base, r.Retry.BaseMs, time.Millisecond)
	setDuration(&t.Resilience.Retry.Max, r.Retry.MaxSec, time.Second)
	if r.Retry.Multiplier > 0 {
		t.Resilience.Retry.Multiplier = r.Retry.Multiplier
	}
	if r.Retry.Jitter > 0 {
		t.Resilience.Retry.Jitter = r.Retry.Jitter
	}
	if r.BulkheadLimit > 0 {
		t.Resilience.BulkheadLimit = r.BulkheadLimit
	}
	if len(r.BulkheadOverrides) > 0 {
		t.Resilience.BulkheadOverrides = r.BulkheadOverrides
	}
	setDuration(&t.Resilience.Timeouts.Search, r.Timeouts.SearchSec, time.Second)
	setDuration(&t.Resilience.Timeouts.Upsert, r.Timeouts.UpsertSec, time.Second)
	setDuration(&t.Resilience.Timeouts.Delete, r.Timeouts.DeleteSec, time.Second)
	setDuration(&t.Resilience.Timeouts.Embed, r.Timeouts.EmbedSec, time.Second)

	w := c.Warming
	t.Warming.Enabled = !w.Disabled
	setDuration(&t.Warming.Interval, w.IntervalSec, time.Second)
	if w.TopN > 0 {
		t.Warming.TopN = w.TopN
	}
	if w.Concurrency > 0 {
		t.Warming.Concurrency = w.Concurrency
	}
	if w.RatePerSecond > 0 {
		t.Warming.RatePerSecond = w.RatePerSecond
	}
	return t
}

func setDuration(dst *time.Duration, n int, unit time.Duration) {
	if n > 0 {
		*dst = time.Duration(n) * unit
	}
}

// CollectionConfigs converts the static collection list into registry configs.
func (c *Config) CollectionConfigs() ([]domcol.Config, error) {
	out := make([]domcol.Config, 0, len(c.Collections))
	var errs []error
	for i, cc := range c.Collections {
		cfg, err := cc.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("collections[%d] %q: %w", i, cc.Name, err))
			continue
		}
		out = append(out, cfg)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (cc CollectionConfig) build() (domcol.Config, error) {
	metric := domcol.Cosine
	if cc.Metric != "" {
		m, err := domcol.ParseMetric(cc.Metric)
		if err != nil {
			return domcol.Config{}, err
		}
		metric = m
	}
	fields := make([]field.Field, 0, len(cc.Fields))
	for _, fc := range cc.Fields {
		f, err := field.New(fc.Name, field.Type(fc.Type))
		if err != nil {
			return domcol.Config{}, err
		}
		fields = append(fields, f)
	}
	opts := []domcol.Option{
		domcol.WithHints(domcol.IndexHints{
			Algorithm:      domcol.Algorithm(cc.Index.Algorithm),
			M:              cc.Index.M,
			EfConstruction: cc.Index.EfConstruction,
		}),
		domcol.WithBoundModel(cc.BoundModel),
		domcol.WithFields(fields...),
	}
	if cc.BatchLimit > 0 {
		opts = append(opts, domcol.WithBatchLimit(cc.BatchLimit))
	}
	return domcol.New(cc.Name, cc.Dimension, metric, opts...)
}

// FindConfigPath locates config/<env>.yaml.
func FindConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
