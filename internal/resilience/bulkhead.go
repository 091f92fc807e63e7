package resilience

import (
	"fmt"
	"sync/atomic"

	"github.com/kailas-cloud/vecgate/internal/domain"
)

// Bulkhead bounds concurrent calls to one backend and fails fast when full.
// Admission is one counter checked against the limit passed on each call, so a
// lowered limit admits nothing new until held slots drain below it.
type Bulkhead struct {
	identity string
	limit    atomic.Int64
	inFlight atomic.Int64
}

// NewBulkhead creates a bulkhead with the given limit.
func NewBulkhead(identity string, limit int) *Bulkhead {
	b := &Bulkhead{identity: identity}
	b.limit.Store(int64(limit))
	return b
}

// TryAcquire takes a slot without waiting. limit is the currently configured limit;
// zero or less keeps the last one.
func (b *Bulkhead) TryAcquire(limit int) (release func(), err error) {
	if limit > 0 {
		b.limit.Store(int64(limit))
	}
	capacity := b.limit.Load()
	for {
		cur := b.inFlight.Load()
		if cur >= capacity {
			return nil, fmt.Errorf("backend %s: %d calls in flight: %w", b.identity, capacity, domain.ErrResourceExhausted)
		}
		if b.inFlight.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			b.inFlight.Add(-1)
		}
	}, nil
}

// InFlight returns the number of held slots.
func (b *Bulkhead) InFlight() int64 { return b.inFlight.Load() }

// Limit returns the last configured limit.
func (b *Bulkhead) Limit() int { return int(b.limit.Load()) }
