package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/domain"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

type staticTunables struct{ t registry.Tunables }

func (s staticTunables) Tunables() registry.Tunables { return s.t }

func testTunables() registry.Tunables {
	t := registry.DefaultTunables()
	t.Resilience.Retry.Base = 20 * time.Millisecond
	t.Resilience.Retry.Max = 200 * time.Millisecond
	return t
}

func newTestManager(t registry.Tunables, opts ...Option) *Manager {
	return NewManager(staticTunables{t: t}, zap.NewNop(), opts...)
}

var errBackend = errors.New("connection reset")

func TestGuard_RetryRecoversOnSecondAttempt(t *testing.T) {
	tun := testTunables()
	g := newTestManager(tun).Guard("qdrant")

	var calls atomic.Int32
	start := time.Now()
	err := g.Do(context.Background(), CallSearch, func(context.Context) error {
		if calls.Add(1) == 1 {
			return errBackend
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	base := tun.Resilience.Retry.Base
	if min := time.Duration(float64(base) * 0.8); elapsed < min {
		t.Errorf("elapsed = %v, want >= %v", elapsed, min)
	}
	if max := base + 2*base + tun.Resilience.Timeouts.Search; elapsed >= max {
		t.Errorf("elapsed = %v, want < %v", elapsed, max)
	}
	wantState(t, g.Breaker(), Closed)
}

func TestGuard_RetryExhausted(t *testing.T) {
	g := newTestManager(testTunables()).Guard("qdrant")

	var calls atomic.Int32
	err := g.Do(context.Background(), CallSearch, func(context.Context) error {
		calls.Add(1)
		return errBackend
	})

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	var ae *domain.AttemptsError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *AttemptsError", err)
	}
	if ae.Attempts != 3 {
		t.Errorf("attempts = %d", ae.Attempts)
	}
	if !errors.Is(err, errBackend) {
		t.Errorf("err = %v does not wrap the backend error", err)
	}
	if k := domain.KindOf(err); k != domain.KindInternal {
		t.Errorf("kind = %s, want INTERNAL", k)
	}
}

func TestGuard_UpsertNotRetried(t *testing.T) {
	g := newTestManager(testTunables()).Guard("qdrant")

	var calls atomic.Int32
	err := g.Do(context.Background(), CallUpsert, func(context.Context) error {
		calls.Add(1)
		return errBackend
	})

	if !errors.Is(err, errBackend) {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, writes must not be retried", calls.Load())
	}
	var ae *domain.AttemptsError
	if errors.As(err, &ae) {
		t.Error("single attempt reported as AttemptsError")
	}
}

func TestGuard_ClientErrorNotRetried(t *testing.T) {
	g := newTestManager(testTunables()).Guard("qdrant")

	var calls atomic.Int32
	for range 10 {
		err := g.Do(context.Background(), CallSearch, func(context.Context) error {
			calls.Add(1)
			return domain.ErrNotFound
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	}
	if calls.Load() != 10 {
		t.Errorf("calls = %d, want 10", calls.Load())
	}
	wantState(t, g.Breaker(), Closed)
}

func TestGuard_Timeout(t *testing.T) {
	tun := testTunables()
	tun.Resilience.Timeouts.Upsert = 30 * time.Millisecond
	g := newTestManager(tun).Guard("qdrant")

	start := time.Now()
	err := g.Do(context.Background(), CallUpsert, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, domain.ErrTimeout) || domain.KindOf(err) != domain.KindTimeout {
		t.Errorf("err = %v, want Timeout", err)
	}
	if d := time.Since(start); d >= time.Second {
		t.Errorf("took %v", d)
	}
}

func TestGuard_TimeoutBoundsRetries(t *testing.T) {
	tun := testTunables()
	tun.Resilience.Retry.Base = time.Second
	tun.Resilience.Timeouts.Search = 50 * time.Millisecond
	g := newTestManager(tun).Guard("qdrant")

	start := time.Now()
	err := g.Do(context.Background(), CallSearch, func(context.Context) error { return errBackend })

	if k := domain.KindOf(err); k != domain.KindTimeout {
		t.Errorf("kind = %s, want TIMEOUT", k)
	}
	if d := time.Since(start); d >= 500*time.Millisecond {
		t.Errorf("took %v, backoff must stop at the call deadline", d)
	}
}

func TestGuard_BreakerOpensAndFailsFast(t *testing.T) {
	tun := testTunables()
	tun.Resilience.Retry.Attempts = 1
	clock := newFakeClock()
	g := newTestManager(tun, WithClock(clock.Now)).Guard("qdrant")

	for range 5 {
		_ = g.Do(context.Background(), CallSearch, func(context.Context) error { return errBackend })
	}
	wantState(t, g.Breaker(), Open)

	var called bool
	err := g.Do(context.Background(), CallSearch, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open circuit must not perform I/O")
	}

	clock.Advance(30 * time.Second)
	if err := g.Do(context.Background(), CallSearch, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	wantState(t, g.Breaker(), Closed)
}

func TestGuard_BulkheadFull(t *testing.T) {
	tun := testTunables()
	tun.Resilience.BulkheadOverrides = map[string]int{"model:minilm": 1}
	g := newTestManager(tun).Guard("model:minilm")

	entered := make(chan struct{})
	hold := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- g.Do(context.Background(), CallEmbed, func(context.Context) error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	err := g.Do(context.Background(), CallEmbed, func(context.Context) error { return nil })
	if !errors.Is(err, domain.ErrResourceExhausted) {
		t.Errorf("err = %v, want ErrResourceExhausted", err)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	wantState(t, g.Breaker(), Closed)
}

func TestGuard_CallerCancelIgnored(t *testing.T) {
	tun := testTunables()
	tun.Resilience.FailureThreshold = 1
	g := newTestManager(tun).Guard("qdrant")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, CallUpsert, func(ctx context.Context) error { return ctx.Err() })

	if err == nil {
		t.Fatal("expected error")
	}
	wantState(t, g.Breaker(), Closed)
}

func TestManager_GuardPerIdentity(t *testing.T) {
	m := newTestManager(testTunables())

	a := m.Guard("qdrant")
	if m.Guard("qdrant") != a {
		t.Error("same identity must return the same guard")
	}
	if m.Guard("model:minilm") == a {
		t.Error("different identities must not share a guard")
	}

	states := m.States()
	if len(states) != 2 {
		t.Fatalf("states = %d, want 2", len(states))
	}
	if states[0].Identity != "model:minilm" || states[1].Identity != "qdrant" {
		t.Errorf("states = %s, %s", states[0].Identity, states[1].Identity)
	}
}
