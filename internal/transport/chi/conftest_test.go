package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/cache"
	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	domusage "github.com/kailas-cloud/vecgate/internal/domain/usage"
	"github.com/kailas-cloud/vecgate/internal/registry"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	collectionuc "github.com/kailas-cloud/vecgate/internal/usecase/collection"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	"github.com/kailas-cloud/vecgate/internal/usecase/gateway"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
	"github.com/kailas-cloud/vecgate/internal/vectorstore/memory"
)

// newTestAPI wires the REST router over the real gateway with an in-process store.
func newTestAPI(t *testing.T, opts ...Option) (http.Handler, *registry.Registry) {
	t.Helper()
	tun := registry.DefaultTunables()
	tun.Cache.L2Enabled = false
	tun.Warming.Enabled = false
	reg, err := registry.New(tun)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	store := memory.New("memory", nil)
	engine := cache.NewEngine(reg, zap.NewNop())
	svc := gateway.New(reg, store, resilience.NewManager(reg, zap.NewNop()), gateway.WithCache(engine))
	colls := collectionuc.New(reg, store, collectionuc.WithInvalidator(engine))

	opts = append([]Option{WithTunables(reg)}, opts...)
	server := NewServer(gateway.NewGateway(svc, zap.NewNop()), colls, &stubHealth{}, zap.NewNop(), opts...)
	return NewRouter(server, RouterConfig{}), reg
}

// newStubAPI wires the router over a stub executor to drive error mapping.
func newStubAPI(t *testing.T, exec *stubExecutor, opts ...Option) http.Handler {
	t.Helper()
	reg, err := registry.New(registry.DefaultTunables())
	if err != nil {
		t.Fatal(err)
	}
	colls := collectionuc.New(reg, memory.New("memory", nil))
	opts = append([]Option{WithTunables(reg)}, opts...)
	return NewRouter(NewServer(exec, colls, &stubHealth{}, zap.NewNop(), opts...), RouterConfig{})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

// --- Mocks ---

type stubExecutor struct {
	mu  sync.Mutex
	ops []operation.Operation
	res operation.Result
	err error
	// tokens simulates model server usage recorded during Execute.
	tokens int
}

func (s *stubExecutor) Execute(ctx context.Context, op operation.Operation) (operation.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
	if s.tokens > 0 {
		domain.UsageFromContext(ctx).AddTokens(s.tokens)
	}
	return s.res, s.err
}

func (s *stubExecutor) last(t *testing.T) operation.Operation {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) == 0 {
		t.Fatal("executor was not called")
	}
	return s.ops[len(s.ops)-1]
}

type stubHealth struct {
	report healthuc.Report
}

func (s *stubHealth) Check(context.Context) healthuc.Report {
	if s.report.Status == "" {
		return healthuc.Report{Status: healthuc.Healthy, Checks: map[string]healthuc.CheckResult{"vector_store": healthuc.CheckOK}}
	}
	return s.report
}

type stubEmbedder struct {
	res  embedding.Result
	err  error
	mode domain.EmbedMode
}

func (s *stubEmbedder) Embed(_ context.Context, _ string, mode domain.EmbedMode, _ []string) (embedding.Result, error) {
	s.mode = mode
	return s.res, s.err
}

type stubUsage struct {
	reports []domusage.Report
}

func (s *stubUsage) Reports(context.Context, domusage.Period) []domusage.Report { return s.reports }

func (s *stubUsage) GetReport(_ context.Context, model string, _ domusage.Period) (domusage.Report, error) {
	for _, r := range s.reports {
		if r.Model() == model {
			return r, nil
		}
	}
	return domusage.Report{}, domain.ErrNotFound
}
