package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/vecgate/internal/metrics"
)

const numShards = 64

// L1 is the in-process cache level: 64 LRU shards sharing one byte budget.
// Each collection has a local generation; bumping it makes every older entry of
// the collection unreachable in O(1).
type L1 struct {
	shards [numShards]*lruShard
	gens   sync.Map // collection -> *atomic.Uint64
	bytes  atomic.Int64
	now    func() time.Time

	resizeMu sync.Mutex
	budget   atomic.Int64
}

// NewL1 creates an L1 with budget bytes split evenly across shards.
func NewL1(budget int64, now func() time.Time) *L1 {
	if now == nil {
		now = time.Now
	}
	l := &L1{now: now}
	l.budget.Store(budget)
	per := shardBudget(budget)
	for i := range numShards {
		l.shards[i] = newLRUShard(per)
	}
	return l
}

func shardBudget(budget int64) int64 { return max(budget/numShards, 1) }

// Budget returns the configured byte budget.
func (l *L1) Budget() int64 { return l.budget.Load() }

// Resize changes the byte budget. Shrinking evicts least recently used entries
// until every shard fits.
func (l *L1) Resize(budget int64) {
	if budget <= 0 || l.budget.Load() == budget {
		return
	}
	l.resizeMu.Lock()
	defer l.resizeMu.Unlock()
	if l.budget.Load() == budget {
		return
	}
	l.budget.Store(budget)
	per := shardBudget(budget)
	for i := range numShards {
		l.account(l.shards[i].resize(per))
	}
}

func l1Key(k Key) string { return k.Collection + "\x00" + k.Fingerprint }

func (l *L1) shard(key string) *lruShard {
	return l.shards[xxhash.Sum64String(key)%numShards]
}

func (l *L1) gen(collection string) *atomic.Uint64 {
	if g, ok := l.gens.Load(collection); ok {
		return g.(*atomic.Uint64)
	}
	g, _ := l.gens.LoadOrStore(collection, new(atomic.Uint64))
	return g.(*atomic.Uint64)
}

// Generation returns the collection's current local generation.
func (l *L1) Generation(collection string) uint64 { return l.gen(collection).Load() }

// Get returns a live entry of the collection's current generation and its expiry.
func (l *L1) Get(k Key) ([]byte, time.Time, bool) {
	key := l1Key(k)
	return l.shard(key).get(key, l.Generation(k.Collection), l.now())
}

// Set stores value under k if gen is still current. expiresAt is absolute.
func (l *L1) Set(k Key, gen uint64, value []byte, expiresAt time.Time) {
	if gen != l.Generation(k.Collection) || !l.now().Before(expiresAt) {
		return
	}
	key := l1Key(k)
	l.account(l.shard(key).set(key, value, gen, expiresAt))
}

// Remove drops a single entry.
func (l *L1) Remove(k Key) {
	key := l1Key(k)
	l.account(l.shard(key).remove(key))
}

// Invalidate bumps the collection's generation and reclaims its old entries in the background.
func (l *L1) Invalidate(collection string) {
	cur := l.gen(collection).Add(1)
	go l.purge(collection, cur)
}

func (l *L1) purge(collection string, gen uint64) {
	prefix := collection + "\x00"
	var wg sync.WaitGroup
	wg.Add(numShards)
	for i := range numShards {
		go func(s *lruShard) {
			defer wg.Done()
			l.account(s.removeIf(func(key string, g uint64) bool {
				return g < gen && strings.HasPrefix(key, prefix)
			}))
		}(l.shards[i])
	}
	wg.Wait()
}

// Bytes returns the bytes held across all shards.
func (l *L1) Bytes() int64 { return l.bytes.Load() }

// Len returns the number of stored entries, including expired ones not yet reclaimed.
func (l *L1) Len() int {
	n := 0
	for i := range numShards {
		n += l.shards[i].len()
	}
	return n
}

func (l *L1) account(delta int64) {
	if delta == 0 {
		return
	}
	metrics.CacheL1Bytes.Set(float64(l.bytes.Add(delta)))
}
