package cache

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecgate/internal/domain/operation"
	"github.com/kailas-cloud/vecgate/internal/metrics"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

// Executor re-runs a search against the backend and repopulates the cache
// (implemented by the gateway).
type Executor interface {
	Warm(ctx context.Context, op operation.Operation) error
}

type hotKey struct {
	collection string
	bucket     uint64
}

type hotEntry struct {
	hits atomic.Int64
	op   atomic.Pointer[operation.Operation]
}

// Warmer keeps frequently searched (collection, vector bucket) pairs warm.
// It runs on its own concurrency budget and rate limit, never the request path's.
type Warmer struct {
	source   TunablesSource
	exec     Executor
	logger   *zap.Logger
	hot      sync.Map // hotKey -> *hotEntry
	schedule chan string
	limiter  *rate.Limiter
}

// NewWarmer creates a warmer. Call Run to start it.
func NewWarmer(source TunablesSource, exec Executor, logger *zap.Logger) *Warmer {
	return &Warmer{
		source:   source,
		exec:     exec,
		logger:   logger,
		schedule: make(chan string, 64),
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
}

// Track counts a search served on the request path.
func (w *Warmer) Track(op operation.Operation) {
	if op.Kind() != operation.Search || len(op.Vector()) == 0 {
		return
	}
	k := hotKey{collection: op.Collection(), bucket: Bucket(op.Vector())}
	v, ok := w.hot.Load(k)
	if !ok {
		v, _ = w.hot.LoadOrStore(k, &hotEntry{})
	}
	ent := v.(*hotEntry)
	ent.hits.Add(1)
	ent.op.Store(&op)
}

// Reschedule queues collection for re-warming. It never blocks; a full queue drops
// the request and the next periodic cycle covers it.
func (w *Warmer) Reschedule(collection string) {
	select {
	case w.schedule <- collection:
	default:
	}
}

// Run warms the hottest searches every interval and on every Reschedule until ctx is done.
func (w *Warmer) Run(ctx context.Context) {
	t := w.source.Tunables().Warming
	interval := t.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx, "")
		case c := <-w.schedule:
			w.cycle(ctx, c)
		}
	}
}

// cycle warms the top N entries, restricted to collection when set. Counts are
// halved afterwards so searches that went cold drop out.
func (w *Warmer) cycle(ctx context.Context, collection string) {
	t := w.source.Tunables().Warming
	if !t.Enabled {
		return
	}
	ops := w.top(collection, t.TopN)
	if collection == "" {
		w.decay()
	}
	if len(ops) == 0 {
		return
	}
	w.warm(ctx, ops, t)
}

func (w *Warmer) warm(ctx context.Context, ops []operation.Operation, t registry.WarmingTunables) {
	if t.RatePerSecond > 0 {
		w.limiter.SetLimit(rate.Limit(t.RatePerSecond))
	} else {
		w.limiter.SetLimit(rate.Inf)
	}
	budget := semaphore.NewWeighted(int64(max(1, t.Concurrency)))

	var (
		wg         sync.WaitGroup
		ok, failed atomic.Int64
	)
	for _, op := range ops {
		if err := w.limiter.Wait(ctx); err != nil {
			break
		}
		if err := budget.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(op operation.Operation) {
			defer wg.Done()
			defer budget.Release(1)
			if err := w.exec.Warm(ctx, op); err != nil {
				failed.Add(1)
				w.logger.Debug("Warming failed",
					zap.String("collection", op.Collection()), zap.Error(err))
				return
			}
			ok.Add(1)
		}(op)
	}
	wg.Wait()

	observeWarmed(ok.Load(), failed.Load())
	w.logger.Debug("Warming cycle finished",
		zap.Int("scheduled", len(ops)),
		zap.Int64("warmed", ok.Load()),
		zap.Int64("failed", failed.Load()),
	)
}

type ranked struct {
	hits int64
	op   operation.Operation
}

func (w *Warmer) top(collection string, n int) []operation.Operation {
	var all []ranked
	w.hot.Range(func(k, v any) bool {
		hk := k.(hotKey)
		if collection != "" && hk.collection != collection {
			return true
		}
		ent := v.(*hotEntry)
		if op := ent.op.Load(); op != nil {
			all = append(all, ranked{hits: ent.hits.Load(), op: *op})
		}
		return true
	})
	slices.SortFunc(all, func(a, b ranked) int {
		switch {
		case a.hits > b.hits:
			return -1
		case a.hits < b.hits:
			return 1
		default:
			return 0
		}
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	ops := make([]operation.Operation, len(all))
	for i, r := range all {
		ops[i] = r.op
	}
	return ops
}

func (w *Warmer) decay() {
	w.hot.Range(func(k, v any) bool {
		ent := v.(*hotEntry)
		for {
			cur := ent.hits.Load()
			if ent.hits.CompareAndSwap(cur, cur/2) {
				if cur/2 == 0 {
					w.hot.Delete(k)
				}
				return true
			}
		}
	})
}

func observeWarmed(ok, failed int64) {
	if ok > 0 {
		metrics.CacheWarmedTotal.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		metrics.CacheWarmedTotal.WithLabelValues("error").Add(float64(failed))
	}
}
