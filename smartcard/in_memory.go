// Package smartcard provides the TTL-bounded ephemeral cache backing the
// smart-card discipline: expiring, non-canonical data only (ids, pointers
// and small fused-result metadata), never durable source-of-truth content.
package smartcard

import (
	"sync"
	"time"

	"github.com/kendomaschk/kenpire-mesh-os-codespaces/core"
	"github.com/kendomaschk/kenpire-mesh-os-codespaces/observability"
)

type entry struct {
	data    []byte
	expires time.Time
}

// InMemoryStore is an in-process core.CardStore implementation. Entries are
// guarded by an RWMutex and copied on save / retrieval to avoid accidental
// external mutation of internal buffers. A janitor goroutine sweeps expired
// entries; reads also check expiry so stale data is never returned between
// sweeps.
//
// This implementation does not survive process restarts, which matches the
// contract: nothing stored here is durable state.
type InMemoryStore struct {
	mu         sync.RWMutex
	cards      map[string]entry
	defaultTTL time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

// Options configures an InMemoryStore.
type Options struct {
	// DefaultTTL applies when Put is called with a zero ttl.
	DefaultTTL time.Duration

	// SweepInterval is the janitor period for evicting expired entries.
	SweepInterval time.Duration
}

// NewInMemoryStore returns an empty store with a running janitor. Call Close
// when done to stop the janitor.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{
		DefaultTTL:    5 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &InMemoryStore{
		cards:      make(map[string]entry),
		defaultTTL: opts.DefaultTTL,
		stop:       make(chan struct{}),
	}
	go s.janitor(opts.SweepInterval)
	return s
}

var _ core.CardStore = (*InMemoryStore)(nil)

// Put stores (or overwrites) the value under key for at most ttl. The input
// slice is copied before storage.
func (s *InMemoryStore) Put(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[key] = entry{data: cp, expires: time.Now().Add(ttl)}
	observability.CardsStored.Set(float64(len(s.cards)))
	return nil
}

// Get returns a copy of the stored value or ErrCardNotFound if the key is
// absent or expired.
func (s *InMemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.cards[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, ErrCardNotFound
	}
	cp := make([]byte, len(e.data))
	copy(cp, e.data)
	return cp, nil
}

// Delete removes the key if present. Deleting an absent key is not an error.
func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cards, key)
	observability.CardsStored.Set(float64(len(s.cards)))
	return nil
}

// Len returns the number of unexpired entries.
func (s *InMemoryStore) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.cards {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// Close stops the janitor. The store remains usable afterwards but no longer
// evicts in the background.
func (s *InMemoryStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *InMemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.cards {
		if now.After(e.expires) {
			delete(s.cards, key)
		}
	}
	observability.CardsStored.Set(float64(len(s.cards)))
}
