package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kailas-cloud/vecgate/internal/registry"
)

// Backoff yields the delay before each retry: base × multiplier^n, capped, with ±jitter.
type Backoff struct {
	exp *backoff.ExponentialBackOff
	max time.Duration
}

// NewBackoff builds a schedule from a retry policy.
func NewBackoff(p registry.RetryPolicy) *Backoff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
	}
	exp.Reset()
	return &Backoff{exp: exp, max: p.Max}
}

// Next returns the next delay. Jitter never pushes a delay above the cap.
func (b *Backoff) Next() time.Duration {
	d := b.exp.NextBackOff()
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
