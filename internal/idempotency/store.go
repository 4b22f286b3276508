package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached session-creation response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	CachedAt    time.Time
}

// Store keeps responses by scoped idempotency key.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultMaxEntries bounds the in-memory cache.
const DefaultMaxEntries = 10000

// MemoryStore is an LRU Store with expiry.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	maxSize  int
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	key      string
	response *Response
	expires  time.Time
}

// NewMemoryStore creates a store holding at most DefaultMaxEntries responses.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(DefaultMaxEntries)
}

// NewMemoryStoreWithSize creates a store holding at most maxSize responses.
func NewMemoryStoreWithSize(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.cleanupLoop(5 * time.Minute)
	return s
}

// Get returns a live response and marks it recently used.
func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if now.After(e.expires) {
		s.remove(el)
		return nil, false
	}
	s.lru.MoveToFront(el)
	return e.response, true
}

// Set stores response for ttl, evicting the least recently used entry when full.
func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	expires := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		e.response = response
		e.expires = expires
		s.lru.MoveToFront(el)
		return nil
	}
	if len(s.entries) >= s.maxSize {
		if back := s.lru.Back(); back != nil {
			s.remove(back)
		}
	}
	s.entries[key] = s.lru.PushFront(&entry{key: key, response: response, expires: expires})
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
	return nil
}

// Len reports the number of cached responses, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// remove must be called with mu held.
func (s *MemoryStore) remove(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(*entry).key)
}

func (s *MemoryStore) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *MemoryStore) removeExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expires) {
			s.remove(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Close implements io.Closer.
func (s *MemoryStore) Close() error {
	s.Stop()
	return nil
}
