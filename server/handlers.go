package server

import (
	"context"
	"time"

	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/protocol"
	"github.com/otr-discord-bot/linkbridge/store"
)

// Identifier turns an authorization code into the osu! user who granted it.
type Identifier interface {
	Identify(ctx context.Context, code string) (*osuapi.User, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store              store.ResultStore
	verifier           protocol.Verifier
	osu                Identifier
	requireSignedState bool
	attemptTTL         time.Duration
	now                func() time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// With requireSignedState set, callbacks whose state carries no valid
// signature are rejected; otherwise a signature is only checked when present.
func NewHandlers(st store.ResultStore, verifier protocol.Verifier, osu Identifier, requireSignedState bool) *Handlers {
	return &Handlers{
		store:              st,
		verifier:           verifier,
		osu:                osu,
		requireSignedState: requireSignedState,
		attemptTTL:         protocol.AttemptTTL,
		now:                time.Now,
	}
}

// WithAttemptTTL sets the longest attempt lifetime the bot issues. Callback
// states expiring further out than that (plus clock skew) are rejected.
func (h *Handlers) WithAttemptTTL(ttl time.Duration) *Handlers {
	if ttl > 0 {
		h.attemptTTL = ttl
	}
	return h
}
