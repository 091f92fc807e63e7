package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/vecgate/internal/db"
	"github.com/kailas-cloud/vecgate/internal/registry"
)

// --- Mocks ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// memKV is an in-memory kvStore honouring TTLs against a fake clock.
type memKV struct {
	mu      sync.Mutex
	clock   *fakeClock
	data    map[string]memEntry
	failGet error
	failInc error
	sets    int
}

func newMemKV(clock *fakeClock) *memKV {
	return &memKV{clock: clock, data: make(map[string]memEntry)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	e, ok := m.data[key]
	if !ok || (!e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt)) {
		return nil, db.ErrKeyNotFound
	}
	return e.value, nil
}

func (m *memKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = memEntry{value: value, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

func (m *memKV) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInc != nil {
		return 0, m.failInc
	}
	n, _ := strconv.ParseInt(string(m.data[key].value), 10, 64)
	n++
	m.data[key] = memEntry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type staticTunables struct {
	mu sync.Mutex
	t  registry.Tunables
}

func newTunables() *staticTunables { return &staticTunables{t: registry.DefaultTunables()} }

func (s *staticTunables) Tunables() registry.Tunables {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *staticTunables) update(fn func(*registry.Tunables)) {
	s.mu.Lock()
	fn(&s.t)
	s.mu.Unlock()
}

type recordingPublisher struct {
	mu          sync.Mutex
	collections []string
	err         error
}

func (p *recordingPublisher) PublishInvalidation(_ context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections = append(p.collections, collection)
	return p.err
}

var errRedisDown = errors.New("dial tcp: connection refused")
