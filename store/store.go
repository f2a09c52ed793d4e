// Package store defines the shared result store between the worker's callback
// and status handlers: a key-value map from attempt nonce to serialized link
// result, where every entry carries its own expiry. Expiry is the only cleanup
// mechanism; there is no sweep.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/otr-discord-bot/linkbridge/crypto"
)

var (
	// ErrExists is returned by Create when the nonce already has an entry.
	ErrExists = errors.New("store: entry already exists")

	// ErrExpired is returned by Create when expiresAt is not in the future.
	ErrExpired = errors.New("store: expiry is in the past")
)

// ResultStore holds link results until they are taken or expire.
type ResultStore interface {
	// Exists reports whether an unexpired entry is present for nonce.
	Exists(ctx context.Context, nonce string) (bool, error)

	// Create writes value under nonce, expiring at expiresAt. It fails with
	// ErrExists if an entry is already present, atomically with the write.
	Create(ctx context.Context, nonce string, value []byte, expiresAt time.Time) error

	// Take returns and removes the entry for nonce. A missing, expired or
	// already-taken entry yields ok=false and no error.
	Take(ctx context.Context, nonce string) (value []byte, ok bool, err error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// sealedStore encrypts values on the way in and decrypts them on the way out.
type sealedStore struct {
	ResultStore
	sealer crypto.Sealer
}

// WithSealer wraps s so that stored values are sealed by sealer.
func WithSealer(s ResultStore, sealer crypto.Sealer) ResultStore {
	if sealer == nil {
		return s
	}
	return &sealedStore{ResultStore: s, sealer: sealer}
}

func (s *sealedStore) Create(ctx context.Context, nonce string, value []byte, expiresAt time.Time) error {
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return err
	}
	return s.ResultStore.Create(ctx, nonce, sealed, expiresAt)
}

func (s *sealedStore) Take(ctx context.Context, nonce string) ([]byte, bool, error) {
	v, ok, err := s.ResultStore.Take(ctx, nonce)
	if err != nil || !ok {
		return nil, ok, err
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}
