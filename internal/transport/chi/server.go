// Package chi is the REST ingress. Handlers translate HTTP into operations for the
// gateway and into calls on the admin services; they hold no business logic.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	domusage "github.com/kailas-cloud/vecgate/internal/domain/usage"
	"github.com/kailas-cloud/vecgate/internal/registry"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
)

// defaultRetryAfter is the Retry-After hint for a full bulkhead or budget.
const defaultRetryAfter = time.Second

// maxBodyBytes bounds request bodies; a full batch of 1536-dim vectors fits comfortably.
const maxBodyBytes = 64 << 20

// Executor runs canonical operations.
type Executor interface {
	Execute(ctx context.Context, op operation.Operation) (operation.Result, error)
}

// CollectionService administers collection registrations.
type CollectionService interface {
	Get(ctx context.Context, name string) (domcol.Config, error)
	List(ctx context.Context) []domcol.Config
	Put(ctx context.Context, cfg domcol.Config) (domcol.Config, bool, error)
	Delete(ctx context.Context, name string) error
}

// Embedder embeds texts with a named model server.
type Embedder interface {
	Embed(ctx context.Context, model string, mode domain.EmbedMode, texts []string) (embedding.Result, error)
}

// UsageReporter reports token usage per model server.
type UsageReporter interface {
	Reports(ctx context.Context, period domusage.Period) []domusage.Report
	GetReport(ctx context.Context, model string, period domusage.Period) (domusage.Report, error)
}

// HealthChecker aggregates backend health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// TunablesSource exposes the live runtime knobs.
type TunablesSource interface {
	Tunables() registry.Tunables
}

// Server holds the REST handlers.
type Server struct {
	gateway       Executor
	collections   CollectionService
	embed         Embedder
	usage         UsageReporter
	health        HealthChecker
	tunables      TunablesSource
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// Option configures a Server.
type Option func(*Server)

// WithEmbedder enables POST /embed.
func WithEmbedder(e Embedder) Option { return func(s *Server) { s.embed = e } }

// WithUsage enables GET /usage.
func WithUsage(u UsageReporter) Option { return func(s *Server) { s.usage = u } }

// WithTunables makes Retry-After follow the live breaker reset timeout.
func WithTunables(t TunablesSource) Option { return func(s *Server) { s.tunables = t } }

// NewServer creates an HTTP API server.
func NewServer(
	gateway Executor,
	collections CollectionService,
	health HealthChecker,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		gateway:     gateway,
		collections: collections,
		health:      health,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.errorHandlers = s.newErrorHandlers()
	return s
}

// Search handles POST /vectors/{collection}:search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts := s.opOptions(r, operation.REST)
	if req.Text != "" {
		mode, err := domain.ParseEmbedMode(req.EmbedMode)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		opts = append(opts, operation.WithText(req.Text, mode))
	}
	expr, err := req.Filter.Build()
	if err != nil {
		s.handleDomainError(w, r, domain.InvalidArgumentf("filter: %v", err))
		return
	}
	opts = append(opts, operation.WithFilter(expr))

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.gateway.Execute(ctx, operation.NewSearch(collection, req.Vector, req.Limit, opts...))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeader(w, usage)
	hits := res.Hits
	if hits == nil {
		hits = []domain.ScoredRecord{}
	}
	if res.CacheLevel != "" {
		w.Header().Set("X-Cache", res.CacheLevel)
	}
	writeJSON(w, http.StatusOK, searchResponse{Hits: hits, Cache: res.CacheLevel})
}

// Upsert handles POST /vectors/{collection}.
func (s *Server) Upsert(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	var req recordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.gateway.Execute(ctx,
		operation.NewUpsert(collection, req.Records, s.opOptions(r, operation.REST)...))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeader(w, usage)
	writeJSON(w, http.StatusOK, writeResponse{Affected: res.Affected})
}

// Delete handles DELETE /vectors/{collection}/{id}. Unknown ids are acknowledged.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.gateway.Execute(r.Context(),
		operation.NewDelete(collection, []string{id}, s.opOptions(r, operation.REST)...)); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BatchUpsert handles POST /vectors/{collection}/batch.
func (s *Server) BatchUpsert(w http.ResponseWriter, r *http.Request) {
	collection, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	var req recordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.gateway.Execute(ctx,
		operation.NewBatch(collection, req.Records, s.opOptions(r, operation.REST)...))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeader(w, usage)
	writeJSON(w, http.StatusOK, batchToResponse(res.Items))
}

// ListCollections handles GET /collections.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	cfgs := s.collections.List(r.Context())
	items := make([]collectionResponse, len(cfgs))
	for i, c := range cfgs {
		items[i] = collectionToResponse(c)
	}
	writeJSON(w, http.StatusOK, collectionListResponse{Items: items})
}

// GetCollection handles GET /collections/{collection}.
func (s *Server) GetCollection(w http.ResponseWriter, r *http.Request) {
	name, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	cfg, err := s.collections.Get(r.Context(), name)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(cfg.Revision())))
	writeJSON(w, http.StatusOK, collectionToResponse(cfg))
}

// PutCollection handles PUT /collections/{collection}: 201 on create, 200 on update.
func (s *Server) PutCollection(w http.ResponseWriter, r *http.Request) {
	name, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	var req collectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := configFromRequest(name, req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	installed, created, err := s.collections.Put(r.Context(), cfg)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(installed.Revision())))
	writeJSON(w, status, collectionToResponse(installed))
}

// DeleteCollection handles DELETE /collections/{collection}.
func (s *Server) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	name, ok := s.pathParam(w, r, "collection")
	if !ok {
		return
	}
	if err := s.collections.Delete(r.Context(), name); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Embed handles POST /embed. Mode defaults to bulk, so one failed text never fails the others.
func (s *Server) Embed(w http.ResponseWriter, r *http.Request) {
	if s.embed == nil {
		s.handleDomainError(w, r, domain.InvalidArgumentf("no model servers configured"))
		return
	}
	var req embedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode := domain.EmbedBulk
	if req.Mode != "" {
		m, err := domain.ParseEmbedMode(req.Mode)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		mode = m
	}
	res, err := s.embed.Embed(r.Context(), req.Model, mode, req.Texts)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(res.TotalTokens))
	writeJSON(w, http.StatusOK, embedToResponse(req.Model, res))
}

// GetUsage handles GET /usage?period=day|month|total&model=.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, usageListResponse{Items: []usageResponse{}})
		return
	}
	var periodParam, model *string
	if err := runtime.BindQueryParameter("form", true, false, "period", r.URL.Query(), &periodParam); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "model", r.URL.Query(), &model); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	var raw string
	if periodParam != nil {
		raw = *periodParam
	}
	period, ok := domusage.ParsePeriod(raw)
	if !ok {
		s.handleDomainError(w, r, domain.InvalidArgumentf("unknown period %q", raw))
		return
	}

	if model != nil && *model != "" {
		report, err := s.usage.GetReport(r.Context(), *model, period)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, usageToResponse(report))
		return
	}
	reports := s.usage.Reports(r.Context(), period)
	items := make([]usageResponse, len(reports))
	for i, rep := range reports {
		items[i] = usageToResponse(rep)
	}
	writeJSON(w, http.StatusOK, usageListResponse{Items: items})
}

// HealthCheck handles GET /health. Degraded still serves traffic and answers 200.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthToResponse(report))
}

// setUsageHeader reports model server tokens spent on the request, if any.
func setUsageHeader(w http.ResponseWriter, u *domain.EmbeddingUsage) {
	if u.Used() {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(u.TotalTokens()))
	}
}

func (s *Server) opOptions(r *http.Request, p operation.Protocol) []operation.Option {
	return []operation.Option{
		operation.WithProtocol(p),
		operation.WithRequestID(chiMiddleware.GetReqID(r.Context())),
	}
}

// pathParam binds a simple-style path parameter, unescaping it.
func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chirouter.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid path parameter "+name+": "+err.Error())
		return "", false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}
