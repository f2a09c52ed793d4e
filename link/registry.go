package link

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/otr-discord-bot/linkbridge/protocol"
)

// slotGrace keeps a slot past its attempt's expiry until the flow polling
// for it has seen the deadline and released it.
const slotGrace = 15 * time.Second

// Registry holds the one in-progress attempt each requester may have. A flow
// releases its slot when it ends; a slot nobody releases expires slotGrace
// after its attempt, so an abandoned flow cannot pin a requester.
type Registry struct {
	mu    sync.Mutex
	slots *ttlcache.Cache[string, protocol.AttemptState]
	grace time.Duration
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: ttlcache.New[string, protocol.AttemptState](
			ttlcache.WithDisableTouchOnHit[string, protocol.AttemptState](),
		),
		grace: slotGrace,
		now:   time.Now,
	}
}

// Acquire registers st for requester unless a live attempt is already held.
// It returns the attempt now owning the slot and whether it is st.
func (r *Registry) Acquire(requester string, st protocol.AttemptState) (protocol.AttemptState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.slots.Get(requester); item != nil {
		return item.Value(), false
	}
	ttl := st.ExpiresAt().Sub(r.now()) + r.grace
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	r.slots.Set(requester, st, ttl)
	return st, true
}

// Lookup returns the live attempt held by requester, if any.
func (r *Registry) Lookup(requester string) (protocol.AttemptState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.slots.Get(requester); item != nil {
		return item.Value(), true
	}
	return protocol.AttemptState{}, false
}

// Release frees requester's slot if it still holds nonce. A flow that outlived
// its slot never clears a newer attempt.
func (r *Registry) Release(requester, nonce string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item := r.slots.Get(requester); item != nil && item.Value().Nonce == nonce {
		r.slots.Delete(requester)
	}
}

// Len counts live slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots.DeleteExpired()
	return r.slots.Len()
}
