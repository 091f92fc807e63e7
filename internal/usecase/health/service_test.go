package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/vecgate/internal/resilience"
)

// --- Mocks ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockModel struct {
	name string
	err  error
	wait time.Duration
}

func (m *mockModel) Name() string { return m.name }

func (m *mockModel) HealthCheck(ctx context.Context) error {
	if m.wait > 0 {
		select {
		case <-time.After(m.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type mockCircuits struct {
	states []resilience.CircuitState
}

func (m *mockCircuits) States() []resilience.CircuitState { return m.states }

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockPinger{}, []ModelChecker{&mockModel{name: "minilm"}}, &mockCircuits{
		states: []resilience.CircuitState{{Identity: "qdrant", State: resilience.Closed}},
	})
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if r.Checks["vector_store"] != CheckOK {
		t.Errorf("expected vector_store %q, got %q", CheckOK, r.Checks["vector_store"])
	}
	if r.Checks["model:minilm"] != CheckOK {
		t.Errorf("expected model %q, got %q", CheckOK, r.Checks["model:minilm"])
	}
	if len(r.Circuits) != 1 {
		t.Errorf("circuits = %v", r.Circuits)
	}
}

func TestCheck_StoreErrorIsUnhealthy(t *testing.T) {
	svc := New(&mockPinger{err: errors.New("conn refused")},
		[]ModelChecker{&mockModel{name: "a", err: errors.New("down")}}, nil)
	r := svc.Check(context.Background())

	if r.Status != Unhealthy {
		t.Errorf("expected %q, got %q", Unhealthy, r.Status)
	}
	if r.Checks["vector_store"] != CheckError {
		t.Errorf("expected vector_store %q, got %q", CheckError, r.Checks["vector_store"])
	}
}

func TestCheck_ModelErrorIsDegraded(t *testing.T) {
	svc := New(&mockPinger{}, []ModelChecker{
		&mockModel{name: "a"},
		&mockModel{name: "b", err: errors.New("timeout")},
	}, nil)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["model:a"] != CheckOK || r.Checks["model:b"] != CheckError {
		t.Errorf("checks = %v", r.Checks)
	}
}

func TestCheck_OpenCircuitIsDegraded(t *testing.T) {
	svc := New(&mockPinger{}, nil, &mockCircuits{
		states: []resilience.CircuitState{{Identity: "openai", State: resilience.Open}},
	})
	if r := svc.Check(context.Background()); r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
}

func TestCheck_NoModels(t *testing.T) {
	svc := New(&mockPinger{}, nil, nil)
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if len(r.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(r.Checks))
	}
}

func TestCheck_SlowComponentTimesOut(t *testing.T) {
	svc := New(&mockPinger{}, []ModelChecker{&mockModel{name: "slow", wait: time.Minute}}, nil)
	svc.timeout = 20 * time.Millisecond

	start := time.Now()
	r := svc.Check(context.Background())
	if time.Since(start) > 5*time.Second {
		t.Fatal("component check was not bounded")
	}
	if r.Checks["model:slow"] != CheckError {
		t.Errorf("checks = %v", r.Checks)
	}
}
