// Package redis is the production store.ResultStore, shared by every worker
// replica. Entries are plain string keys "<prefix>:<nonce>" with an absolute
// expiry set at write time.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otr-discord-bot/linkbridge/store"
)

// Store implements store.ResultStore using Redis.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Connect parses a redis:// URL, opens a client and pings it.
func Connect(ctx context.Context, url, prefix string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *Store) key(nonce string) string {
	return fmt.Sprintf("%s:%s", s.prefix, nonce)
}

// Exists implements store.ResultStore.
func (s *Store) Exists(ctx context.Context, nonce string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Create implements store.ResultStore with SET NX EXAT.
func (s *Store) Create(ctx context.Context, nonce string, value []byte, expiresAt time.Time) error {
	if !expiresAt.After(time.Now()) {
		return store.ErrExpired
	}
	err := s.client.SetArgs(ctx, s.key(nonce), value, redis.SetArgs{
		Mode:     "NX",
		ExpireAt: expiresAt,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return store.ErrExists
	}
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Take implements store.ResultStore with GETDEL, so two concurrent polls can
// never both receive the entry.
func (s *Store) Take(ctx context.Context, nonce string) ([]byte, bool, error) {
	v, err := s.client.GetDel(ctx, s.key(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis getdel: %w", err)
	}
	return v, true, nil
}

// Ping implements store.ResultStore.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
