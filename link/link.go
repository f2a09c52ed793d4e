// Package link drives the bot side of an account link: it creates an attempt,
// hands the user an osu! authorization URL carrying the attempt state, and
// polls the worker's signed status endpoint until the result arrives or the
// attempt runs out of time.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/otr-discord-bot/linkbridge/protocol"
	"github.com/otr-discord-bot/linkbridge/telemetry"
)

var (
	// ErrPollExhausted means every poll came back without a result.
	ErrPollExhausted = errors.New("link attempt did not complete in time")

	// ErrInProgress is returned by Link when the requester already has a
	// flow waiting for its result.
	ErrInProgress = errors.New("link attempt already in progress")

	// ErrPending is returned by Poll when the worker has no result.
	ErrPending = errors.New("result not available")
)

const maxStatusBody = 64 << 10

// Authorizer renders the provider authorization URL for a state token.
type Authorizer interface {
	AuthorizeURL(state string) string
}

// AccountStore persists a successful link.
type AccountStore interface {
	SaveLink(ctx context.Context, chatID string, res protocol.LinkResult) error
}

// Attempt is what a requester is shown to start authorizing.
type Attempt struct {
	State protocol.AttemptState
	Token string // encoded state as sent in the URL
	URL   string
}

// Config wires an Initiator. Zero durations fall back to the protocol defaults.
type Config struct {
	WorkerURL    string
	Signer       protocol.Signer
	Authorizer   Authorizer
	Accounts     AccountStore
	Registry     *Registry
	HTTPClient   *http.Client
	PollInterval time.Duration
	AttemptTTL   time.Duration
	SignState    bool
	Now          func() time.Time
}

// Initiator starts link attempts and waits for their outcome.
type Initiator struct {
	statusURL string
	signer    protocol.Signer
	auth      Authorizer
	accounts  AccountStore
	registry  *Registry
	http      *http.Client
	interval  time.Duration
	ttl       time.Duration
	signState bool
	now       func() time.Time
}

// NewInitiator validates cfg and builds an Initiator.
func NewInitiator(cfg Config) (*Initiator, error) {
	if cfg.WorkerURL == "" {
		return nil, errors.New("worker url is required")
	}
	if cfg.Signer == nil || cfg.Authorizer == nil {
		return nil, errors.New("signer and authorizer are required")
	}
	in := &Initiator{
		statusURL: strings.TrimRight(cfg.WorkerURL, "/") + protocol.StatusPath,
		signer:    cfg.Signer,
		auth:      cfg.Authorizer,
		accounts:  cfg.Accounts,
		registry:  cfg.Registry,
		http:      cfg.HTTPClient,
		interval:  cfg.PollInterval,
		ttl:       cfg.AttemptTTL,
		signState: cfg.SignState,
		now:       cfg.Now,
	}
	if in.registry == nil {
		in.registry = NewRegistry()
	}
	if in.http == nil {
		in.http = &http.Client{Timeout: 10 * time.Second}
	}
	if in.interval <= 0 {
		in.interval = protocol.PollInterval
	}
	if in.ttl <= 0 {
		in.ttl = protocol.AttemptTTL
	}
	if in.now == nil {
		in.now = time.Now
	}
	in.registry.now = in.now
	return in, nil
}

// MaxPolls is the poll budget for one attempt: floor(ttl/interval) - 1, at
// least one. The last poll lands before the attempt expires.
func MaxPolls(ttl, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(ttl/interval) - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Registry exposes the in-progress attempts.
func (in *Initiator) Registry() *Registry { return in.registry }

// Start returns the requester's in-progress attempt if there is one, else
// registers a fresh attempt. The bool reports whether the attempt is new.
func (in *Initiator) Start(requesterID string) (Attempt, bool, error) {
	if requesterID == "" {
		return Attempt{}, false, errors.New("empty requester id")
	}
	st := protocol.NewAttemptState(in.now(), in.ttl)
	if in.signState {
		st = st.Signed(in.signer)
	}
	held, fresh := in.registry.Acquire(requesterID, st)
	if fresh {
		telemetry.Inc(telemetry.LinkStarted)
		telemetry.SetInFlight(in.registry.Len())
	}
	token := held.Encode()
	return Attempt{State: held, Token: token, URL: in.auth.AuthorizeURL(token)}, fresh, nil
}

// Await polls the worker for nonce's result. When requesterID holds the
// attempt, polling also stops at the attempt's expiry. The requester's slot
// is released whatever the outcome.
func (in *Initiator) Await(ctx context.Context, nonce, requesterID string) (*protocol.LinkResult, error) {
	defer func() {
		in.registry.Release(requesterID, nonce)
		telemetry.SetInFlight(in.registry.Len())
	}()
	logger := slog.Default().With(slog.String("component", "link"), slog.String("requester", requesterID))

	parent := ctx
	if st, ok := in.registry.Lookup(requesterID); ok && st.Nonce == nonce {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, st.ExpiresAt())
		defer cancel()
	}
	exhausted := func(polls int) (*protocol.LinkResult, error) {
		if err := parent.Err(); err != nil {
			return nil, err
		}
		telemetry.Inc(telemetry.LinkExhausted)
		logger.Info("link attempt exhausted", slog.Int("polls", polls))
		return nil, ErrPollExhausted
	}

	budget := MaxPolls(in.ttl, in.interval)
	timer := time.NewTimer(in.interval)
	defer timer.Stop()
	for n := 1; n <= budget; n++ {
		select {
		case <-ctx.Done():
			return exhausted(n - 1)
		case <-timer.C:
		}
		res, err := in.Poll(ctx, nonce)
		if err == nil {
			telemetry.IncPoll(telemetry.OutcomeComplete)
			telemetry.Inc(telemetry.LinkCompleted)
			logger.Info("link result received", slog.Int("poll", n), slog.Int64("osu_id", res.OsuID))
			return res, nil
		}
		if errors.Is(err, ErrPending) {
			telemetry.IncPoll(telemetry.OutcomePending)
		} else {
			telemetry.IncPoll("error")
			logger.Debug("status poll failed", slog.Int("poll", n), slog.Any("err", err))
		}
		timer.Reset(in.interval)
	}
	return exhausted(budget)
}

// Poll sends one signed status request for nonce. It returns ErrPending when
// the worker answers that no result is available; a result is consumed by
// the worker on delivery.
func (in *Initiator) Poll(ctx context.Context, nonce string) (*protocol.LinkResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "link", "status poll", telemetry.NonceAttr(nonce))
	defer span.End()

	ts := in.now().UnixMilli()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.statusURL+"?nonce="+url.QueryEscape(nonce), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(protocol.TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(protocol.SignatureHeader, in.signer.Sign(protocol.PollMessage(nonce, ts)))
	req.Header.Set("Accept", "application/json")

	resp, err := in.http.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("status endpoint returned %s", resp.Status)
		telemetry.RecordError(span, err)
		return nil, err
	}
	status, err := protocol.DecodeStatusResponse(body)
	if err != nil {
		return nil, err
	}
	switch s := status.(type) {
	case protocol.StatusComplete:
		telemetry.SetSpanSuccess(span)
		return &s.Result, nil
	default:
		return nil, ErrPending
	}
}

// Link runs a whole flow for requesterID. notify is called with the attempt
// before waiting so the caller can deliver the URL; fresh is false when a
// flow is already running, in which case Link returns ErrInProgress after
// notifying. A completed result is saved through the configured AccountStore.
func (in *Initiator) Link(ctx context.Context, requesterID string, notify func(ctx context.Context, a Attempt, fresh bool) error) (*protocol.LinkResult, error) {
	att, fresh, err := in.Start(requesterID)
	if err != nil {
		return nil, err
	}
	if err := notify(ctx, att, fresh); err != nil {
		if fresh {
			in.registry.Release(requesterID, att.State.Nonce)
		}
		return nil, fmt.Errorf("deliver authorization link: %w", err)
	}
	if !fresh {
		telemetry.Inc(telemetry.LinkRejected)
		return nil, ErrInProgress
	}
	res, err := in.Await(ctx, att.State.Nonce, requesterID)
	if err != nil {
		return nil, err
	}
	if in.accounts != nil {
		if err := in.accounts.SaveLink(ctx, requesterID, *res); err != nil {
			return res, fmt.Errorf("save link: %w", err)
		}
	}
	return res, nil
}
