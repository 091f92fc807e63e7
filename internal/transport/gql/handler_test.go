package gql

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	healthuc "github.com/kailas-cloud/vecgate/internal/usecase/health"
)

// --- Mocks ---

type stubExecutor struct {
	ops []operation.Operation
	res operation.Result
	err error
}

func (s *stubExecutor) Execute(_ context.Context, op operation.Operation) (operation.Result, error) {
	s.ops = append(s.ops, op)
	return s.res, s.err
}

type stubCollections struct {
	cfgs []domcol.Config
}

func (s *stubCollections) List(context.Context) []domcol.Config { return s.cfgs }

type stubHealth struct{}

func (stubHealth) Check(context.Context) healthuc.Report {
	return healthuc.Report{
		Status:   healthuc.Degraded,
		Checks:   map[string]healthuc.CheckResult{"vector_store": healthuc.CheckOK},
		Circuits: []resilience.CircuitState{{Identity: "openai", State: resilience.Open, ConsecutiveFailures: 5}},
	}
}

// --- Helpers ---

type response struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

func newHandler(t *testing.T, exec *stubExecutor, colls ...domcol.Config) *Handler {
	t.Helper()
	schema, err := NewSchema(exec, &stubCollections{cfgs: colls}, stubHealth{})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return NewHandler(schema, zap.NewNop())
}

func post(t *testing.T, h http.Handler, query string, vars map[string]any) (int, response) {
	t.Helper()
	body, _ := json.Marshal(request{Query: query, Variables: vars})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body)))
	var resp response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rr.Code, resp
}

// --- Tests ---

func TestSearch(t *testing.T) {
	exec := &stubExecutor{res: operation.Result{
		Kind:       operation.Search,
		Hits:       []domain.ScoredRecord{{ID: "1", Score: 0.99, Payload: map[string]any{"title": "one"}}},
		CacheLevel: "l2",
	}}
	h := newHandler(t, exec)

	code, resp := post(t, h, `query($v: [Float!]) {
		search(collection: "docs", vector: $v, limit: 5,
			filter: {must: [{key: "lang", match: "en"}], must_not: [{key: "year", range: {lt: 2000}}]}) {
			hits { id score payload } cache
		}
	}`, map[string]any{"v": []float64{1, 0, 0, 0}})
	if code != http.StatusOK || len(resp.Errors) != 0 {
		t.Fatalf("code = %d errors = %+v", code, resp.Errors)
	}

	var got struct {
		Hits []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"hits"`
		Cache string `json:"cache"`
	}
	if err := json.Unmarshal(resp.Data["search"], &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Hits) != 1 || got.Hits[0].ID != "1" || got.Hits[0].Payload["title"] != "one" || got.Cache != "l2" {
		t.Errorf("search = %+v", got)
	}

	op := exec.ops[0]
	if op.Collection() != "docs" || op.Limit() != 5 || len(op.Vector()) != 4 || op.Protocol() != operation.GraphQL {
		t.Errorf("op = %+v", op)
	}
	if op.Filter().IsEmpty() {
		t.Error("filter was dropped")
	}
}

func TestSearch_ErrorCarriesCode(t *testing.T) {
	tests := []struct {
		err  error
		code domain.ErrKind
	}{
		{domain.ErrNotFound, domain.KindNotFound},
		{domain.DimensionError(3, 4), domain.KindInvalidDimension},
		{domain.ErrCircuitOpen, domain.KindCircuitOpen},
		{&domain.AttemptsError{Attempts: 3, Err: domain.ErrTimeout}, domain.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			h := newHandler(t, &stubExecutor{err: tt.err})
			_, resp := post(t, h, `{ search(collection: "docs", vector: [1]) { hits { id } } }`, nil)
			if len(resp.Errors) != 1 {
				t.Fatalf("errors = %+v", resp.Errors)
			}
			if resp.Errors[0].Extensions["code"] != string(tt.code) {
				t.Errorf("extensions = %v", resp.Errors[0].Extensions)
			}
		})
	}
}

func TestSearch_InternalMessageHidden(t *testing.T) {
	h := newHandler(t, &stubExecutor{err: context.Canceled})
	_, resp := post(t, h, `{ search(collection: "docs", vector: [1]) { hits { id } } }`, nil)
	if len(resp.Errors) != 1 || resp.Errors[0].Message != domain.ErrTimeout.Error() {
		t.Errorf("errors = %+v", resp.Errors)
	}
}

func TestUpsertMutation(t *testing.T) {
	exec := &stubExecutor{res: operation.Result{Kind: operation.Upsert, Affected: 2}}
	h := newHandler(t, exec)

	_, resp := post(t, h, `mutation($r: [RecordInput!]!) { upsert(collection: "docs", records: $r) { affected } }`,
		map[string]any{"r": []map[string]any{
			{"id": "1", "vector": []float64{1, 0}, "payload": map[string]any{"n": 1}},
			{"id": "2", "text": "hello"},
		}})
	if len(resp.Errors) != 0 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if string(resp.Data["upsert"]) != `{"affected":2}` {
		t.Errorf("upsert = %s", resp.Data["upsert"])
	}
	recs := exec.ops[0].Records()
	if len(recs) != 2 || recs[0].Payload["n"] == nil || recs[1].Text != "hello" || len(recs[0].Vector) != 2 {
		t.Errorf("records = %+v", recs)
	}
}

func TestUpsertMutation_PayloadMustBeObject(t *testing.T) {
	exec := &stubExecutor{}
	h := newHandler(t, exec)
	_, resp := post(t, h, `mutation { upsert(collection: "docs", records: [{id: "1", vector: [1], payload: 3}]) { affected } }`, nil)
	if len(resp.Errors) != 1 || resp.Errors[0].Extensions["code"] != string(domain.KindInvalidArgument) {
		t.Errorf("errors = %+v", resp.Errors)
	}
	if len(exec.ops) != 0 {
		t.Error("invalid input reached the gateway")
	}
}

func TestDeleteMutation(t *testing.T) {
	exec := &stubExecutor{res: operation.Result{Kind: operation.Delete, Affected: 2}}
	h := newHandler(t, exec)
	_, resp := post(t, h, `mutation { delete(collection: "docs", ids: ["a", "b"]) { affected } }`, nil)
	if len(resp.Errors) != 0 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	if ids := exec.ops[0].IDs(); len(ids) != 2 || ids[1] != "b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestCollectionsAndHealth(t *testing.T) {
	docs, err := domcol.New("docs", 4, domcol.Cosine, domcol.WithBoundModel("minilm"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHandler(t, &stubExecutor{}, docs)

	_, resp := post(t, h, `{ collections { name dimension metric boundModel revision }
		health { status checks circuits { backend state consecutiveFailures } } }`, nil)
	if len(resp.Errors) != 0 {
		t.Fatalf("errors = %+v", resp.Errors)
	}
	var colls []map[string]any
	_ = json.Unmarshal(resp.Data["collections"], &colls)
	if len(colls) != 1 || colls[0]["name"] != "docs" || colls[0]["boundModel"] != "minilm" {
		t.Errorf("collections = %v", colls)
	}
	var health struct {
		Status   string            `json:"status"`
		Checks   map[string]string `json:"checks"`
		Circuits []struct {
			Backend string `json:"backend"`
			State   string `json:"state"`
		} `json:"circuits"`
	}
	_ = json.Unmarshal(resp.Data["health"], &health)
	if health.Status != "degraded" || health.Checks["vector_store"] != "ok" || health.Circuits[0].State != "open" {
		t.Errorf("health = %+v", health)
	}
}

func TestHandler_GetQuery(t *testing.T) {
	h := newHandler(t, &stubExecutor{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql?query="+url.QueryEscape("{ collections { name } }"), http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	h := newHandler(t, &stubExecutor{})
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{"empty query", http.MethodPost, `{}`},
		{"malformed", http.MethodPost, `{`},
		{"method", http.MethodPut, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, "/graphql", bytes.NewBufferString(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d", rr.Code)
			}
		})
	}
}
