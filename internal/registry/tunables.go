package registry

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Tunables are the runtime knobs that can change without a restart.
// A Tunables value is immutable once installed; SetTunables swaps in a new one.
type Tunables struct {
	Cache      CacheTunables
	Resilience ResilienceTunables
	Warming    WarmingTunables
}

// CacheTunables configure both cache levels.
type CacheTunables struct {
	Enabled       bool
	L1TTL         time.Duration
	L1BudgetBytes int64
	L2Enabled     bool
	L2TTL         time.Duration
	L2BudgetBytes int64
}

// RetryPolicy is the backoff schedule for idempotent calls.
type RetryPolicy struct {
	Attempts   int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter is the randomization factor: 0.2 spreads each delay over ±20%.
	Jitter float64
}

// Timeouts are per-kind call deadlines, enforced around the whole call including retries.
type Timeouts struct {
	Search time.Duration
	Upsert time.Duration
	Delete time.Duration
	Embed  time.Duration
}

// ResilienceTunables configure breakers, retries, bulkheads and timeouts.
type ResilienceTunables struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Retry            RetryPolicy
	BulkheadLimit    int
	// BulkheadOverrides maps a backend identity to its own limit.
	BulkheadOverrides map[string]int
	Timeouts          Timeouts
}

// BulkheadFor returns the concurrency limit of a backend identity.
func (r ResilienceTunables) BulkheadFor(identity string) int {
	if n, ok := r.BulkheadOverrides[identity]; ok && n > 0 {
		return n
	}
	return r.BulkheadLimit
}

// WarmingTunables configure the out-of-band cache warmer.
type WarmingTunables struct {
	Enabled     bool
	Interval    time.Duration
	TopN        int
	Concurrency int
	// RatePerSecond bounds warming backend calls; 0 means unlimited.
	RatePerSecond float64
}

// DefaultTunables returns the documented defaults.
func DefaultTunables() Tunables {
	return Tunables{
		Cache: CacheTunables{
			Enabled:       true,
			L1TTL:         300 * time.Second,
			L1BudgetBytes: 2 << 30,
			L2Enabled:     true,
			L2TTL:         3600 * time.Second,
			L2BudgetBytes: 16 << 30,
		},
		Resilience: ResilienceTunables{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			Retry: RetryPolicy{
				Attempts:   3,
				Base:       time.Second,
				Multiplier: 2,
				Max:        30 * time.Second,
				Jitter:     0.2,
			},
			BulkheadLimit: 200,
			Timeouts: Timeouts{
				Search: 10 * time.Second,
				Upsert: 30 * time.Second,
				Delete: 30 * time.Second,
				Embed:  30 * time.Second,
			},
		},
		Warming: WarmingTunables{
			Enabled:       true,
			Interval:      time.Minute,
			TopN:          100,
			Concurrency:   4,
			RatePerSecond: 20,
		},
	}
}

// Validate rejects settings that would disable a safety property.
func (t Tunables) Validate() error {
	var errs []error
	c := t.Cache
	if c.Enabled {
		if c.L1TTL <= 0 || c.L2TTL <= 0 {
			errs = append(errs, errors.New("cache ttl must be positive"))
		}
		if c.L1BudgetBytes <= 0 {
			errs = append(errs, errors.New("cache l1 budget must be positive"))
		}
	}
	r := t.Resilience
	if r.FailureThreshold <= 0 {
		errs = append(errs, errors.New("failure threshold must be positive"))
	}
	if r.ResetTimeout <= 0 {
		errs = append(errs, errors.New("reset timeout must be positive"))
	}
	if r.Retry.Attempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	if r.Retry.Base <= 0 || r.Retry.Max < r.Retry.Base {
		errs = append(errs, errors.New("retry base must be positive and not above max"))
	}
	if r.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be >= 1"))
	}
	if r.Retry.Jitter < 0 || r.Retry.Jitter >= 1 {
		errs = append(errs, errors.New("retry jitter must be in [0, 1)"))
	}
	if r.BulkheadLimit <= 0 {
		errs = append(errs, errors.New("bulkhead limit must be positive"))
	}
	for id, n := range r.BulkheadOverrides {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("bulkhead override for %q must be positive", id))
		}
	}
	to := r.Timeouts
	if to.Search <= 0 || to.Upsert <= 0 || to.Delete <= 0 || to.Embed <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if w := t.Warming; w.Enabled {
		if w.Interval <= 0 || w.TopN <= 0 || w.Concurrency <= 0 {
			errs = append(errs, errors.New("warming interval, top_n and concurrency must be positive"))
		}
		if w.RatePerSecond < 0 {
			errs = append(errs, errors.New("warming rate must not be negative"))
		}
	}
	return errors.Join(errs...)
}

func (t Tunables) clone() Tunables {
	t.Resilience.BulkheadOverrides = maps.Clone(t.Resilience.BulkheadOverrides)
	return t
}
