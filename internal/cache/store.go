package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Value is a cached translation.
type Value struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// Entry is one stored cache record.
type Entry struct {
	Key       string
	Value     Value
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// StoreStats describes the contents of a store.
type StoreStats struct {
	Entries   int
	Evictions int64
}

// Store is the storage behind a Cache. Implementations must be safe for
// concurrent use, drop expired entries on read, and evict least recently
// used entries once they hold more than their capacity.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry) error
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// MemoryStore is an in-process LRU store with TTL expiry.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element
	evictions  int64
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
}

// Get returns the entry for key, refreshing its recency.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	e := el.Value.(Entry)
	if e.Expired(s.now()) {
		s.ll.Remove(el)
		delete(s.items, key)
		return Entry{}, false, nil
	}
	s.ll.MoveToFront(el)
	return e, true, nil
}

// Put inserts or replaces an entry, evicting the least recently used ones
// beyond capacity.
func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[e.Key]; ok {
		el.Value = e
		s.ll.MoveToFront(el)
		return nil
	}
	s.items[e.Key] = s.ll.PushFront(e)
	for s.ll.Len() > s.maxEntries {
		oldest := s.ll.Back()
		s.ll.Remove(oldest)
		delete(s.items, oldest.Value.(Entry).Key)
		s.evictions++
	}
	return nil
}

// Stats returns entry and eviction counts.
func (s *MemoryStore) Stats(context.Context) (StoreStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StoreStats{Entries: s.ll.Len(), Evictions: s.evictions}, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
