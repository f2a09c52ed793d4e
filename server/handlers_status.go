package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/otr-discord-bot/linkbridge/protocol"
	"github.com/otr-discord-bot/linkbridge/telemetry"
)

// HandleStatus answers a signed poll from the bot. A stored result is
// returned once and removed; absent, consumed and expired all read as pending.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "status"))

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nonce := r.URL.Query().Get("nonce")
	if nonce == "" {
		telemetry.IncStatus(telemetry.OutcomeBadRequest)
		http.Error(w, msgBadRequest, http.StatusBadRequest)
		return
	}
	if !h.authorizedPoll(r, nonce) {
		telemetry.IncStatus(telemetry.OutcomeUnauthorized)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	value, ok, err := h.store.Take(ctx, nonce)
	if err != nil {
		logger.Error("store take failed", slog.Any("err", err))
		telemetry.IncStatus(telemetry.OutcomeStoreFail)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	if !ok {
		telemetry.IncStatus(telemetry.OutcomePending)
		writeJSON(w, protocol.StatusPending{})
		return
	}
	res, err := protocol.DecodeLinkResult(value)
	if err != nil {
		// The entry is gone; nothing else can collect it.
		logger.Error("stored link result unreadable", slog.String("nonce", nonce), slog.Any("err", err))
		telemetry.IncStatus(telemetry.OutcomeStoreFail)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	telemetry.IncStatus(telemetry.OutcomeComplete)
	writeJSON(w, protocol.StatusComplete{Result: res})
}

// authorizedPoll checks the poll timestamp is inside the skew window and the
// signature covers "{nonce}.{timestamp}".
func (h *Handlers) authorizedPoll(r *http.Request, nonce string) bool {
	sig := r.Header.Get(protocol.SignatureHeader)
	ts, err := strconv.ParseInt(r.Header.Get(protocol.TimestampHeader), 10, 64)
	if err != nil || sig == "" {
		return false
	}
	if !protocol.WithinSkew(h.now(), ts) {
		return false
	}
	return h.verifier.Verify(protocol.PollMessage(nonce, ts), sig)
}

func writeJSON(w http.ResponseWriter, v protocol.StatusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
