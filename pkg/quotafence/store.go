package quotafence

import (
	"container/list"
	"sync"
	"time"
)

// Store holds per-key entries for one endpoint group. Implementations must be
// safe for concurrent use, and Update must serialize the read-modify-write
// for a given key: this is the discipline that keeps concurrent bursts
// against one key from admitting more than the configured maximum.
type Store interface {
	// Update runs fn on the entry for key under the key's lock, creating the
	// entry if absent or expired, and refreshes its TTL. An error from fn
	// aborts the write and is returned unchanged.
	Update(key string, ttl time.Duration, fn func(e *Entry) error) error

	// Get returns a snapshot of the entry for key, or false if absent.
	Get(key string) (*Entry, bool, error)

	// Delete removes the entry for key.
	Delete(key string) error

	// Len returns the number of live entries.
	Len() int
}

const storeShards = 16

// MemoryStore is the default Store: a bounded map with LRU eviction and
// per-entry TTL, sharded to reduce lock contention. Old entries are dropped
// rather than accumulating unboundedly under key floods.
type MemoryStore struct {
	shards  [storeShards]storeShard
	perCap  int
	now     func() time.Time
	stopped sync.Once
	stop    chan struct{}
}

type storeShard struct {
	mu      sync.Mutex
	entries map[string]*storeEntry
	order   *list.List // front = most recently used
}

type storeEntry struct {
	key       string
	entry     *Entry
	expiresAt time.Time
	elem      *list.Element
}

// NewMemoryStore creates a store bounded to maxEntries keys. Values below
// the shard count are rounded up so every shard can hold at least one entry.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return newMemoryStore(maxEntries, time.Now)
}

// newMemoryStore takes the time source used for TTL checks, so expiry can
// share the limiter's clock.
func newMemoryStore(maxEntries int, now func() time.Time) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	perCap := maxEntries / storeShards
	if perCap < 1 {
		perCap = 1
	}

	s := &MemoryStore{perCap: perCap, now: now, stop: make(chan struct{})}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*storeEntry)
		s.shards[i].order = list.New()
	}
	return s
}

func (s *MemoryStore) shard(key string) *storeShard {
	return &s.shards[fnv32a(key)%storeShards]
}

// Update implements Store. The shard lock is held across fn, serializing
// every read-modify-write for the key.
func (s *MemoryStore) Update(key string, ttl time.Duration, fn func(e *Entry) error) error {
	if key == "" {
		return ErrInvalidKey
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	se, ok := sh.entries[key]
	if ok && se.expiresAt.Before(now) {
		// Expired entries are never read as stale data.
		sh.remove(se)
		ok = false
	}
	if !ok {
		se = &storeEntry{key: key, entry: &Entry{}}
		se.elem = sh.order.PushFront(se)
		sh.entries[key] = se
		sh.evictOver(s.perCap)
	} else {
		sh.order.MoveToFront(se.elem)
	}

	if err := fn(se.entry); err != nil {
		return err
	}
	se.expiresAt = now.Add(ttl)
	return nil
}

// Get implements Store. The returned entry is a copy; mutating it does not
// affect the stored state.
func (s *MemoryStore) Get(key string) (*Entry, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	se, ok := sh.entries[key]
	if !ok || se.expiresAt.Before(s.now()) {
		return nil, false, nil
	}
	cp := *se.entry
	cp.Timestamps = append([]time.Time(nil), se.entry.Timestamps...)
	return &cp, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if se, ok := sh.entries[key]; ok {
		sh.remove(se)
	}
	return nil
}

// Len implements Store. Expired but not yet collected entries are included.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].entries)
		s.shards[i].mu.Unlock()
	}
	return n
}

// StartJanitor starts a goroutine that periodically removes expired entries.
// It locks one shard at a time so request handling never waits behind a full
// sweep. Call the returned function to stop it.
func (s *MemoryStore) StartJanitor(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.removeExpired()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		s.stopped.Do(func() { close(s.stop) })
	}
}

func (s *MemoryStore) removeExpired() {
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, se := range sh.entries {
			if se.expiresAt.Before(now) {
				sh.remove(se)
			}
		}
		sh.mu.Unlock()
	}
}

// remove deletes an entry. Must be called with the shard lock held.
func (sh *storeShard) remove(se *storeEntry) {
	sh.order.Remove(se.elem)
	delete(sh.entries, se.key)
}

// evictOver drops least recently used entries beyond the cap. Must be called
// with the shard lock held.
func (sh *storeShard) evictOver(cap int) {
	for len(sh.entries) > cap {
		back := sh.order.Back()
		if back == nil {
			return
		}
		sh.remove(back.Value.(*storeEntry))
	}
}

// fnv32a hashes a key for shard selection without allocating.
func fnv32a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
