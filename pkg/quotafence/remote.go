package quotafence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DistributedStore is the capability interface for pluggable external
// backends such as Redis. Get/Set carry opaque serialized entries for the
// stateful engines; Increment is not used by the entry adapter below but is
// part of the contract so counter-only backends can be built without a
// read-modify-write. Every call takes a context because a networked backend
// introduces a suspension point per check; callers apply a timeout and fail
// open rather than stall the request.
type DistributedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultRemoteTimeout bounds each distributed store call.
const DefaultRemoteTimeout = 250 * time.Millisecond

// RemoteStore adapts a DistributedStore to the Store interface used by the
// engines. Entries travel as JSON.
//
// Serialization caveat: the read-modify-write is guarded by a per-key lock in
// this process only, so with several processes sharing one backend the
// engines are best effort. A strict cross-process bound would need a
// counter-only store built on the backend's atomic Increment, which this
// adapter does not implement.
type RemoteStore struct {
	backend DistributedStore
	timeout time.Duration
	locks   [storeShards]sync.Mutex
}

// NewRemoteStore wraps a DistributedStore. A non-positive timeout falls back
// to DefaultRemoteTimeout.
func NewRemoteStore(backend DistributedStore, timeout time.Duration) *RemoteStore {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteStore{backend: backend, timeout: timeout}
}

// Update implements Store.
func (s *RemoteStore) Update(key string, ttl time.Duration, fn func(e *Entry) error) error {
	if key == "" {
		return ErrInvalidKey
	}

	mu := &s.locks[fnv32a(key)%storeShards]
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entry, _, err := s.fetch(ctx, key)
	if err != nil {
		return err
	}

	if err := fn(entry); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", ErrStoreFailed, err)
	}
	if err := s.backend.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

// Get implements Store.
func (s *RemoteStore) Get(key string) (*Entry, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.fetch(ctx, key)
}

// Delete implements Store.
func (s *RemoteStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

// Len implements Store. Remote backends do not expose a cheap cardinality,
// so this always reports zero.
func (s *RemoteStore) Len() int { return 0 }

// prefixedStore namespaces keys per endpoint group so groups sharing one
// distributed backend keep independent quotas.
type prefixedStore struct {
	prefix string
	inner  Store
}

func newPrefixedStore(groupName string, inner Store) Store {
	return &prefixedStore{prefix: groupName + ":", inner: inner}
}

func (p *prefixedStore) Update(key string, ttl time.Duration, fn func(e *Entry) error) error {
	return p.inner.Update(p.prefix+key, ttl, fn)
}

func (p *prefixedStore) Get(key string) (*Entry, bool, error) {
	return p.inner.Get(p.prefix + key)
}

func (p *prefixedStore) Delete(key string) error {
	return p.inner.Delete(p.prefix + key)
}

func (p *prefixedStore) Len() int { return p.inner.Len() }

func (s *RemoteStore) fetch(ctx context.Context, key string) (*Entry, bool, error) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if !ok {
		return &Entry{}, false, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is reinitialized rather than trusted.
		return &Entry{}, false, nil
	}
	return &entry, true, nil
}
