// Package memory is an in-process store.ResultStore backed by ttlcache. It
// serves local development and tests; a worker with more than one replica
// needs the redis backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/otr-discord-bot/linkbridge/store"
)

// Store implements store.ResultStore using ttlcache.
type Store struct {
	// mu makes check-then-set and get-then-delete atomic.
	mu    sync.Mutex
	cache *ttlcache.Cache[string, []byte]
	now   func() time.Time
}

// New creates a store and starts its expiry goroutine. Call Close to stop it.
func New() *Store {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go cache.Start()
	return &Store{cache: cache, now: time.Now}
}

// Exists implements store.ResultStore.
func (s *Store) Exists(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(nonce) != nil, nil
}

// Create implements store.ResultStore.
func (s *Store) Create(_ context.Context, nonce string, value []byte, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return store.ErrExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.Get(nonce) != nil {
		return store.ErrExists
	}
	s.cache.Set(nonce, append([]byte(nil), value...), ttl)
	return nil
}

// Take implements store.ResultStore.
func (s *Store) Take(_ context.Context, nonce string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.cache.Get(nonce)
	if item == nil {
		return nil, false, nil
	}
	s.cache.Delete(nonce)
	return item.Value(), true, nil
}

// Ping implements store.ResultStore.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (s *Store) Len() int { return s.cache.Len() }

// Close stops the expiry goroutine.
func (s *Store) Close() error {
	s.cache.Stop()
	return nil
}
