package vecgate

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kailas-cloud/vecgate/internal/cache"
	domcol "github.com/kailas-cloud/vecgate/internal/domain/collection"
	"github.com/kailas-cloud/vecgate/internal/registry"
	"github.com/kailas-cloud/vecgate/internal/resilience"
	"github.com/kailas-cloud/vecgate/internal/transport/grpcapi"
	collectionuc "github.com/kailas-cloud/vecgate/internal/usecase/collection"
	"github.com/kailas-cloud/vecgate/internal/usecase/embedding"
	"github.com/kailas-cloud/vecgate/internal/usecase/gateway"
	"github.com/kailas-cloud/vecgate/internal/vectorstore/memory"
)

// --- Mocks ---

type stubStreamer struct {
	chunks []embedding.Chunk
}

func (s *stubStreamer) Stream(ctx context.Context, _ string, _ []string) (<-chan embedding.Chunk, error) {
	out := make(chan embedding.Chunk)
	go func() {
		defer close(out)
		for _, c := range s.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// --- Helpers ---

func newGateway(t *testing.T) grpcapi.Executor {
	t.Helper()
	tun := registry.DefaultTunables()
	tun.Cache.L2Enabled = false
	tun.Warming.Enabled = false
	reg, err := registry.New(tun)
	if err != nil {
		t.Fatal(err)
	}
	store := memory.New("memory", nil)
	engine := cache.NewEngine(reg, zap.NewNop())
	colls := collectionuc.New(reg, store, collectionuc.WithInvalidator(engine))
	cfg, err := domcol.New("docs", 4, domcol.Cosine)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := colls.Put(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	svc := gateway.New(reg, store, resilience.NewManager(reg, zap.NewNop()), gateway.WithCache(engine))
	return gateway.NewGateway(svc, zap.NewNop())
}

func serve(t *testing.T, srv grpcapi.VectorGatewayServer, cfg grpcapi.ServerConfig, opts ...Option) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s, _ := grpcapi.NewGRPCServer(srv, cfg)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	opts = append(opts, WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})))
	c, err := New("passthrough:///bufnet", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// --- Tests ---

func TestNew_NoTarget(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty target")
	}
}

func TestClient_UpsertSearchDelete(t *testing.T) {
	c := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), grpcapi.ServerConfig{})
	ctx := context.Background()

	n, err := c.Upsert(ctx, "docs", []Record{
		{ID: "1", Vector: []float32{1, 0, 0, 0}, Payload: map[string]any{"lang": "en"}},
		{ID: "2", Vector: []float32{0, 1, 0, 0}, Payload: map[string]any{"lang": "de"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 2 {
		t.Errorf("affected = %d", n)
	}

	res, err := c.Search("docs").Vector([]float32{0, 1, 0, 0}).Where("lang", "de").Limit(5).Do(ctx)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 1 || res.Hits[0].ID != "2" {
		t.Fatalf("hits = %+v", res.Hits)
	}

	if _, err := c.Delete(ctx, "docs", "2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	res, err = c.Search("docs").Vector([]float32{0, 1, 0, 0}).WhereNot("lang", "en").Do(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("hits after delete = %+v", res.Hits)
	}
}

func TestClient_ErrorsUnwrapToSentinels(t *testing.T) {
	c := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), grpcapi.ServerConfig{})
	ctx := context.Background()

	_, err := c.Search("missing").Vector([]float32{1, 0, 0, 0}).Do(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Code != codes.NotFound || e.Kind != "NOT_FOUND" {
		t.Errorf("error = %+v", e)
	}

	_, err = c.Upsert(ctx, "docs", []Record{{ID: "x", Vector: []float32{1, 0}}})
	if !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("err = %v, want ErrInvalidDimension", err)
	}
	if KindOf(err) != "INVALID_DIMENSION" {
		t.Errorf("kind = %q", KindOf(err))
	}
}

func TestClient_BatchUpsert(t *testing.T) {
	c := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), grpcapi.ServerConfig{})

	res, err := c.BatchUpsert(context.Background(), "docs", []Record{
		{ID: "ok", Vector: []float32{1, 0, 0, 0}},
		{ID: "short", Vector: []float32{1}},
	})
	if err != nil {
		t.Fatalf("BatchUpsert: %v", err)
	}
	if res.Succeeded != 1 || res.Failed != 1 {
		t.Fatalf("res = %+v", res)
	}
	if !res.Items[0].OK || res.Items[1].OK {
		t.Errorf("items = %+v", res.Items)
	}
	if !errors.Is(res.Items[1].Err, ErrInvalidDimension) {
		t.Errorf("item err = %v", res.Items[1].Err)
	}
}

func TestClient_Embed(t *testing.T) {
	streamer := &stubStreamer{chunks: []embedding.Chunk{
		{Offset: 0, Items: []embedding.Item{{Index: 0, Vector: []float32{1}}, {Index: 1, Vector: []float32{2}}}, TotalTokens: 4},
		{Offset: 2, Items: []embedding.Item{{Index: 2, Vector: []float32{3}}}, TotalTokens: 2},
	}}
	c := serve(t, grpcapi.NewServer(newGateway(t), streamer, zap.NewNop()), grpcapi.ServerConfig{})

	var got []EmbedChunk
	err := c.Embed(context.Background(), "m", []string{"a", "b", "c"}, func(ch EmbedChunk) error {
		got = append(got, ch)
		return nil
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[1].Offset != 2 || len(got[0].Vectors) != 2 || got[0].Vectors[1][0] != 2 {
		t.Fatalf("chunks = %+v", got)
	}

	stop := errors.New("stop")
	calls := 0
	err = c.Embed(context.Background(), "m", []string{"a", "b", "c"}, func(EmbedChunk) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestClient_APIKey(t *testing.T) {
	cfg := grpcapi.ServerConfig{APIKeys: []string{"secret"}}

	anon := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), cfg)
	_, err := anon.Search("docs").Vector([]float32{1, 0, 0, 0}).Do(context.Background())
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	// Health stays reachable without a key.
	if ok, err := anon.Healthy(context.Background()); err != nil || !ok {
		t.Errorf("Healthy = %v, %v", ok, err)
	}

	authed := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), cfg, WithAPIKey("secret"))
	if _, err := authed.Search("docs").Vector([]float32{1, 0, 0, 0}).Do(context.Background()); err != nil {
		t.Errorf("authorized search: %v", err)
	}
}

func TestWithPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := serve(t, grpcapi.NewServer(newGateway(t), nil, zap.NewNop()), grpcapi.ServerConfig{}, WithPrometheus(reg))
	_, _ = c.Search("missing").Vector([]float32{1, 0, 0, 0}).Do(context.Background())

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range mfs {
		if mf.GetName() != "vecgate_client_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == "NOT_FOUND" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("operations_total{kind=NOT_FOUND} not recorded")
	}

	// A second client on the same registerer reuses the collectors.
	if _, err := New("passthrough:///unused", WithPrometheus(reg)); err != nil {
		t.Errorf("second client: %v", err)
	}
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"kind prefix", status.Error(codes.ResourceExhausted, "RESOURCE_EXHAUSTED: resource exhausted"), ErrResourceExhausted},
		{"circuit open", status.Error(codes.Unavailable, "CIRCUIT_OPEN: circuit open"), ErrCircuitOpen},
		{"transport unavailable", status.Error(codes.Unavailable, "connection refused"), ErrUnavailable},
		{"unauthenticated", status.Error(codes.Unauthenticated, "missing api key"), ErrUnauthenticated},
		{"bare deadline", status.Error(codes.DeadlineExceeded, "context deadline exceeded"), ErrTimeout},
		{"canceled", status.Error(codes.Canceled, "context canceled"), context.Canceled},
		{"unknown", status.Error(codes.Unknown, "boom"), ErrInternal},
		{"unknown prefix", status.Error(codes.Internal, "WHATEVER: x"), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fromStatus(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("fromStatus = %v, want %v", got, tt.want)
			}
		})
	}
	if fromStatus(nil) != nil {
		t.Error("nil should stay nil")
	}
}
