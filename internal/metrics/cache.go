package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache Prometheus metrics.
var (
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by level and result",
		},
		[]string{"level", "result"}, // level "l1"/"l2"; result "hit"/"miss"
	)

	CacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_invalidations_total",
			Help:      "Cache invalidations by scope and origin",
		},
		[]string{"scope", "origin"}, // scope "collection"/"key"; origin "local"/"peer"
	)

	CacheWarmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_warmed_total",
			Help:      "Warming executions by outcome",
		},
		[]string{"status"},
	)

	CacheL1Bytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "cache_l1_bytes",
			Help:      "Bytes currently held by the in-process cache",
		},
	)
)

// cache_hit_ratio is exported per level: "l1", "l2" and "any" (either level).
var cacheHitRatio = []prometheus.Collector{
	newHitRatioGauge("l1", func() int64 { return cacheL1Hits.Load() }),
	newHitRatioGauge("l2", func() int64 { return cacheL2Hits.Load() }),
	newHitRatioGauge("any", func() int64 { return cacheL1Hits.Load() + cacheL2Hits.Load() }),
}

func newHitRatioGauge(level string, hits func() int64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   Namespace,
			Name:        "cache_hit_ratio",
			Help:        "Fraction of lookups served by a cache level since start",
			ConstLabels: prometheus.Labels{"level": level},
		},
		func() float64 { return hitRatio(hits()) },
	)
}

var (
	cacheLookups atomic.Int64
	cacheL1Hits  atomic.Int64
	cacheL2Hits  atomic.Int64
)

// ObserveCacheLookup records one end-to-end cache lookup. level is "" on a full miss.
func ObserveCacheLookup(level string) {
	cacheLookups.Add(1)
	switch level {
	case "l1":
		cacheL1Hits.Add(1)
	case "l2":
		cacheL2Hits.Add(1)
	}
}

func hitRatio(hits int64) float64 {
	n := cacheLookups.Load()
	if n == 0 {
		return 0
	}
	return float64(hits) / float64(n)
}

var registerCacheOnce sync.Once

// RegisterCacheMetrics registers cache metrics. Safe to call more than once.
func RegisterCacheMetrics() {
	registerCacheOnce.Do(func() {
		prometheus.MustRegister(CacheRequestsTotal, CacheInvalidationsTotal, CacheWarmedTotal, CacheL1Bytes)
		prometheus.MustRegister(cacheHitRatio...)
	})
}
