package store_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/otr-discord-bot/linkbridge/crypto"
	"github.com/otr-discord-bot/linkbridge/store"
	"github.com/otr-discord-bot/linkbridge/store/memory"
	"github.com/otr-discord-bot/linkbridge/store/storetest"
)

func newSealer(t *testing.T) *crypto.AESSealer {
	t.Helper()
	s, err := crypto.NewAESSealer(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSealedStoreConformance(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { _ = inner.Close() })
	storetest.Run(t, store.WithSealer(inner, newSealer(t)))
}

func TestSealedStoreHidesPlaintext(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	t.Cleanup(func() { _ = inner.Close() })
	sealed := store.WithSealer(inner, newSealer(t))

	val := []byte(`{"osuId":4,"username":"secret-name"}`)
	if err := sealed.Create(ctx, "n", val, time.Now().Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	raw, ok, _ := inner.Take(ctx, "n")
	if !ok {
		t.Fatal("inner store has no entry")
	}
	if bytes.Contains(raw, []byte("secret-name")) {
		t.Error("inner store holds plaintext")
	}
}

func TestWithNilSealerIsIdentity(t *testing.T) {
	inner := memory.New()
	t.Cleanup(func() { _ = inner.Close() })
	if got := store.WithSealer(inner, nil); got != store.ResultStore(inner) {
		t.Error("WithSealer(nil) should return the store unchanged")
	}
}
