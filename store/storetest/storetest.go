// Package storetest provides a behavioural test suite that every
// store.ResultStore implementation must pass.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/otr-discord-bot/linkbridge/store"
)

// Run exercises s. The store must start empty for the nonces it generates.
func Run(t *testing.T, s store.ResultStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("absent nonce", func(t *testing.T) {
		nonce := uuid.NewString()
		if ok, err := s.Exists(ctx, nonce); err != nil || ok {
			t.Fatalf("Exists() = %v, %v; want false", ok, err)
		}
		if _, ok, err := s.Take(ctx, nonce); err != nil || ok {
			t.Fatalf("Take() ok = %v, err = %v; want false", ok, err)
		}
	})

	t.Run("create then take once", func(t *testing.T) {
		nonce := uuid.NewString()
		val := []byte(`{"osuId":1,"username":"a"}`)
		if err := s.Create(ctx, nonce, val, time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if ok, err := s.Exists(ctx, nonce); err != nil || !ok {
			t.Fatalf("Exists() = %v, %v; want true", ok, err)
		}
		got, ok, err := s.Take(ctx, nonce)
		if err != nil || !ok || !bytes.Equal(got, val) {
			t.Fatalf("Take() = %q, %v, %v", got, ok, err)
		}
		if _, ok, _ := s.Take(ctx, nonce); ok {
			t.Fatal("second Take() returned the entry again")
		}
		if ok, _ := s.Exists(ctx, nonce); ok {
			t.Fatal("entry still exists after Take()")
		}
	})

	t.Run("create is exclusive", func(t *testing.T) {
		nonce := uuid.NewString()
		exp := time.Now().Add(time.Minute)
		if err := s.Create(ctx, nonce, []byte("first"), exp); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := s.Create(ctx, nonce, []byte("second"), exp); !errors.Is(err, store.ErrExists) {
			t.Fatalf("second Create() error = %v, want ErrExists", err)
		}
		got, _, _ := s.Take(ctx, nonce)
		if string(got) != "first" {
			t.Fatalf("Take() = %q, want first write", got)
		}
	})

	t.Run("concurrent create has one winner", func(t *testing.T) {
		nonce := uuid.NewString()
		exp := time.Now().Add(time.Minute)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Create(ctx, nonce, []byte("v"), exp); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("%d concurrent creates succeeded, want 1", wins.Load())
		}
		_, _, _ = s.Take(ctx, nonce)
	})

	t.Run("past expiry is rejected", func(t *testing.T) {
		nonce := uuid.NewString()
		if err := s.Create(ctx, nonce, []byte("v"), time.Now().Add(-time.Second)); !errors.Is(err, store.ErrExpired) {
			t.Fatalf("Create() error = %v, want ErrExpired", err)
		}
	})

	t.Run("entry expires", func(t *testing.T) {
		nonce := uuid.NewString()
		if err := s.Create(ctx, nonce, []byte("v"), time.Now().Add(1100*time.Millisecond)); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		time.Sleep(1500 * time.Millisecond)
		if _, ok, _ := s.Take(ctx, nonce); ok {
			t.Fatal("expired entry was returned")
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	})
}
