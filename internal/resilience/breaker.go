package resilience

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

// State is a circuit breaker state.
type State int32

// Breaker states. Values double as the circuit_state gauge value.
const (
	Closed   State = 0
	HalfOpen State = 1
	Open     State = 2
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is how a finished call affects the breaker.
type Outcome int

// Call outcomes.
const (
	// Success means the backend answered, including with a caller error such as NotFound.
	Success Outcome = iota
	// Failure means the backend failed or timed out.
	Failure
	// Ignored means the call says nothing about backend health (caller cancelled, budget spent).
	Ignored
)

// CircuitState is a point-in-time view of one breaker, for health reporting.
type CircuitState struct {
	Identity            string
	State               State
	ConsecutiveFailures int64
	OpenedAt            time.Time
}

// circuit is immutable; every transition installs a new one by CAS.
type circuit struct {
	state    State
	openedAt time.Time
	epoch    uint64
}

// BreakerSettings supplies the current threshold and reset timeout on every call,
// so hot-reloaded values apply without rebuilding breakers.
type BreakerSettings func() (threshold int, reset time.Duration)

// Breaker is a lock-free Closed/Open/HalfOpen state machine for one backend identity.
type Breaker struct {
	identity string
	cur      atomic.Pointer[circuit]
	failures atomic.Int64
	settings BreakerSettings
	now      func() time.Time
	onChange func(identity string, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(identity string, settings BreakerSettings, now func() time.Time, onChange func(string, State)) *Breaker {
	if now == nil {
		now = time.Now
	}
	if onChange == nil {
		onChange = func(string, State) {}
	}
	b := &Breaker{identity: identity, settings: settings, now: now, onChange: onChange}
	b.cur.Store(&circuit{state: Closed})
	return b
}

// Admission is a permit to call the backend. Exactly one of the callers racing past an
// expired Open state receives a trial admission.
type Admission struct {
	trial *circuit
	epoch uint64
}

// IsTrial reports whether this admission is the single half-open trial call.
func (a Admission) IsTrial() bool { return a.trial != nil }

// Allow admits a call or fails with ErrCircuitOpen without any I/O.
func (b *Breaker) Allow() (Admission, error) {
	for {
		cur := b.cur.Load()
		switch cur.state {
		case Closed:
			return Admission{epoch: cur.epoch}, nil
		case HalfOpen:
			return Admission{}, b.openErr()
		case Open:
			_, reset := b.settings()
			if b.now().Sub(cur.openedAt) < reset {
				return Admission{}, b.openErr()
			}
			next := &circuit{state: HalfOpen, openedAt: cur.openedAt, epoch: cur.epoch + 1}
			if b.cur.CompareAndSwap(cur, next) {
				b.onChange(b.identity, HalfOpen)
				return Admission{trial: next, epoch: next.epoch}, nil
			}
		}
	}
}

// Done records the outcome of an admitted call.
func (b *Breaker) Done(a Admission, o Outcome) {
	if a.trial != nil {
		b.finishTrial(a.trial, o)
		return
	}

	cur := b.cur.Load()
	if cur.state != Closed || cur.epoch != a.epoch {
		// Admitted before a transition; its outcome belongs to a past epoch.
		return
	}
	switch o {
	case Success:
		b.failures.Store(0)
	case Failure:
		threshold, _ := b.settings()
		if b.failures.Add(1) < int64(threshold) {
			return
		}
		next := &circuit{state: Open, openedAt: b.now(), epoch: cur.epoch + 1}
		if b.cur.CompareAndSwap(cur, next) {
			b.failures.Store(0)
			b.onChange(b.identity, Open)
		}
	case Ignored:
	}
}

func (b *Breaker) finishTrial(trial *circuit, o Outcome) {
	var next *circuit
	switch o {
	case Success:
		next = &circuit{state: Closed, epoch: trial.epoch + 1}
	case Failure:
		next = &circuit{state: Open, openedAt: b.now(), epoch: trial.epoch + 1}
	default:
		// Keep the old openedAt: the reset window has already elapsed, so the next caller gets the trial.
		next = &circuit{state: Open, openedAt: trial.openedAt, epoch: trial.epoch + 1}
	}
	if b.cur.CompareAndSwap(trial, next) {
		b.failures.Store(0)
		b.onChange(b.identity, next.state)
	}
}

// State returns the current state.
func (b *Breaker) State() State { return b.cur.Load().state }

// Snapshot returns the breaker's CircuitState.
func (b *Breaker) Snapshot() CircuitState {
	cur := b.cur.Load()
	return CircuitState{
		Identity:            b.identity,
		State:               cur.state,
		ConsecutiveFailures: b.failures.Load(),
		OpenedAt:            cur.openedAt,
	}
}

func (b *Breaker) openErr() error {
	return fmt.Errorf("backend %s: %w", b.identity, domain.ErrCircuitOpen)
}
