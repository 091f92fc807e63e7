package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func newTestBus(t *testing.T, srv *natsserver.Server, instance string) *Bus {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return New(nc, "", instance, zap.NewNop())
}

func mustOK(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
		return ""
	}
}

func TestBus_InvalidationReachesPeersOnly(t *testing.T) {
	srv := startTestNATSServer(t)
	a := newTestBus(t, srv, "a")
	b := newTestBus(t, srv, "b")

	fromA := make(chan string, 4)
	fromB := make(chan string, 4)
	mustOK(t, a.OnInvalidation(func(c string) { fromB <- c }))
	mustOK(t, b.OnInvalidation(func(c string) { fromA <- c }))
	mustOK(t, a.nc.Flush())
	mustOK(t, b.nc.Flush())

	mustOK(t, a.PublishInvalidation(context.Background(), "docs"))
	if c := receive(t, fromA); c != "docs" {
		t.Errorf("peer received %q, want docs", c)
	}

	// a published; a's own handler must stay silent.
	select {
	case c := <-fromB:
		t.Fatalf("instance received its own invalidation for %q", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_CollectionAnnouncements(t *testing.T) {
	srv := startTestNATSServer(t)
	a := newTestBus(t, srv, "a")
	b := newTestBus(t, srv, "b")

	got := make(chan string, 1)
	mustOK(t, b.OnCollection(func(ctx context.Context, name string) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("handler context has no deadline")
		}
		got <- name
	}))
	mustOK(t, b.nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mustOK(t, a.AnnounceCollection(ctx, "products"))
	if c := receive(t, got); c != "products" {
		t.Errorf("announced %q, want products", c)
	}
}

func TestBus_SubjectsAreSeparate(t *testing.T) {
	srv := startTestNATSServer(t)
	a := newTestBus(t, srv, "a")
	b := newTestBus(t, srv, "b")

	inv := make(chan string, 1)
	mustOK(t, b.OnInvalidation(func(c string) { inv <- c }))
	mustOK(t, b.nc.Flush())

	mustOK(t, a.AnnounceCollection(context.Background(), "docs"))
	select {
	case c := <-inv:
		t.Fatalf("announcement delivered as invalidation for %q", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_MalformedMessageIgnored(t *testing.T) {
	srv := startTestNATSServer(t)
	b := newTestBus(t, srv, "b")

	got := make(chan string, 1)
	mustOK(t, b.OnInvalidation(func(c string) { got <- c }))
	mustOK(t, b.nc.Flush())

	mustOK(t, b.nc.Publish(b.invalidationSubject(), []byte("{not json")))
	mustOK(t, b.nc.Flush())
	select {
	case c := <-got:
		t.Fatalf("malformed message delivered: %q", c)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_PublishHonoursCancelledContext(t *testing.T) {
	srv := startTestNATSServer(t)
	a := newTestBus(t, srv, "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.PublishInvalidation(ctx, "docs"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	srv := startTestNATSServer(t)
	b := newTestBus(t, srv, "")
	if b.Instance() == "" {
		t.Error("empty instance id should be generated")
	}
	if got := b.invalidationSubject(); got != "vecgate.cache.invalidate" {
		t.Errorf("invalidation subject = %q", got)
	}
	if got := b.collectionSubject(); got != "vecgate.registry.collection" {
		t.Errorf("collection subject = %q", got)
	}
}
