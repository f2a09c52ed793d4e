package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/otr-discord-bot/linkbridge/osuapi"
	"github.com/otr-discord-bot/linkbridge/protocol"
	"github.com/otr-discord-bot/linkbridge/store"
	"github.com/otr-discord-bot/linkbridge/telemetry"
)

const (
	msgBadRequest = "Bad request"
	msgExpired    = "Authorization attempt expired. Try again."
	msgInternal   = "Internal server error"
	msgLinked     = "Beautiful risings %s. You can safely return to the chat."
)

// HandleCallback is the osu! redirect target. It validates the attempt state,
// exchanges the code for the user's identity and publishes the result under
// the attempt nonce exactly once. Failure responses never say why beyond
// expiry.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "callback"))

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	code, rawState := q.Get("code"), q.Get("state")
	if code == "" || rawState == "" {
		h.rejectCallback(w, telemetry.OutcomeBadState, msgBadRequest)
		return
	}

	st, err := protocol.DecodeState(rawState)
	if err != nil {
		logger.Debug("undecodable state", slog.Any("err", err))
		h.rejectCallback(w, telemetry.OutcomeBadState, msgBadRequest)
		return
	}
	logger = logger.With(slog.String("nonce", st.Nonce))
	if (st.Sig != "" || h.requireSignedState) && !st.VerifySignature(h.verifier) {
		logger.Warn("state signature rejected")
		h.rejectCallback(w, telemetry.OutcomeBadState, msgBadRequest)
		return
	}
	if st.Expired(h.now()) {
		h.rejectCallback(w, telemetry.OutcomeExpired, msgExpired)
		return
	}
	if st.ExpiresAt().Sub(h.now()) > h.attemptTTL+protocol.MaxClockSkew {
		logger.Warn("state expiry beyond attempt lifetime", slog.Time("exp", st.ExpiresAt()))
		h.rejectCallback(w, telemetry.OutcomeBadState, msgBadRequest)
		return
	}

	exists, err := h.store.Exists(ctx, st.Nonce)
	if err != nil {
		logger.Error("store lookup failed", slog.Any("err", err))
		h.rejectCallbackStatus(w, telemetry.OutcomeStoreFail, msgInternal, http.StatusInternalServerError)
		return
	}
	if exists {
		logger.Warn("callback replayed for stored nonce")
		h.rejectCallback(w, telemetry.OutcomeReplay, msgBadRequest)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "callback", "osu identify", telemetry.NonceAttr(st.Nonce))
	var user *osuapi.User
	telemetry.TimeFunc(telemetry.OsuDuration, func() { user, err = h.osu.Identify(ctx, code) })
	telemetry.RecordError(span, err)
	span.End()
	if err != nil {
		logger.Warn("osu exchange failed", slog.Any("err", err))
		h.rejectCallback(w, telemetry.OutcomeUpstream, msgBadRequest)
		return
	}

	body, err := json.Marshal(protocol.LinkResult{OsuID: user.ID, Username: user.Username})
	if err != nil {
		logger.Error("encode link result", slog.Any("err", err))
		h.rejectCallbackStatus(w, telemetry.OutcomeStoreFail, msgInternal, http.StatusInternalServerError)
		return
	}
	switch err := h.store.Create(ctx, st.Nonce, body, st.ResultExpiry()); {
	case errors.Is(err, store.ErrExists):
		logger.Warn("concurrent callback already published nonce")
		h.rejectCallback(w, telemetry.OutcomeReplay, msgBadRequest)
		return
	case errors.Is(err, store.ErrExpired):
		h.rejectCallback(w, telemetry.OutcomeExpired, msgExpired)
		return
	case err != nil:
		logger.Error("store write failed", slog.Any("err", err))
		h.rejectCallbackStatus(w, telemetry.OutcomeStoreFail, msgInternal, http.StatusInternalServerError)
		return
	}

	telemetry.IncCallback(telemetry.OutcomeLinked)
	logger.Info("link result stored", slog.Int64("osu_id", user.ID))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, msgLinked, user.Username)
}

func (h *Handlers) rejectCallback(w http.ResponseWriter, outcome, msg string) {
	h.rejectCallbackStatus(w, outcome, msg, http.StatusBadRequest)
}

func (h *Handlers) rejectCallbackStatus(w http.ResponseWriter, outcome, msg string, code int) {
	telemetry.IncCallback(outcome)
	http.Error(w, msg, code)
}
