package cache

import (
	"container/list"
	"sync"
	"time"
)

type l1Entry struct {
	key       string
	value     []byte
	gen       uint64
	expiresAt time.Time
}

// lruShard is one byte-budgeted LRU with absolute per-entry expiry.
type lruShard struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*list.Element
	evictList *list.List
}

func newLRUShard(capacity int64) *lruShard {
	return &lruShard{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// get returns the value when present, unexpired and tagged with gen.
// Anything else found under key is dropped.
func (s *lruShard) get(key string, gen uint64, now time.Time) ([]byte, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, time.Time{}, false
	}
	ent := el.Value.(*l1Entry)
	if ent.gen != gen || !now.Before(ent.expiresAt) {
		s.removeElement(el)
		return nil, time.Time{}, false
	}
	s.evictList.MoveToFront(el)
	return ent.value, ent.expiresAt, true
}

// set stores value and returns the change in held bytes.
func (s *lruShard) set(key string, value []byte, gen uint64, expiresAt time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.size
	itemSize := entrySize(key, value)
	if itemSize > s.capacity {
		if el, ok := s.items[key]; ok {
			s.removeElement(el)
		}
		return s.size - before
	}

	if el, ok := s.items[key]; ok {
		ent := el.Value.(*l1Entry)
		s.size += itemSize - entrySize(ent.key, ent.value)
		ent.value = value
		ent.gen = gen
		ent.expiresAt = expiresAt
		s.evictList.MoveToFront(el)
		s.evict()
		return s.size - before
	}

	for s.size+itemSize > s.capacity {
		el := s.evictList.Back()
		if el == nil {
			break
		}
		s.removeElement(el)
	}

	el := s.evictList.PushFront(&l1Entry{key: key, value: value, gen: gen, expiresAt: expiresAt})
	s.items[key] = el
	s.size += itemSize
	return s.size - before
}

func (s *lruShard) remove(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return 0
	}
	before := s.size
	s.removeElement(el)
	return s.size - before
}

// removeIf drops entries matching pred and returns the change in held bytes.
func (s *lruShard) removeIf(pred func(key string, gen uint64) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.size
	var doomed []*list.Element
	for key, el := range s.items {
		if pred(key, el.Value.(*l1Entry).gen) {
			doomed = append(doomed, el)
		}
	}
	for _, el := range doomed {
		s.removeElement(el)
	}
	return s.size - before
}

// resize sets the capacity, evicts down to it and returns the change in held bytes.
func (s *lruShard) resize(capacity int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.size
	s.capacity = capacity
	s.evict()
	return s.size - before
}

func (s *lruShard) evict() {
	for s.size > s.capacity {
		el := s.evictList.Back()
		if el == nil {
			return
		}
		s.removeElement(el)
	}
}

func (s *lruShard) removeElement(el *list.Element) {
	s.evictList.Remove(el)
	ent := el.Value.(*l1Entry)
	delete(s.items, ent.key)
	s.size -= entrySize(ent.key, ent.value)
}

func (s *lruShard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// entrySize charges the key too, so many tiny values still respect the budget.
func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
