// Package server is the worker's HTTP surface: the OAuth redirect target
// (/callback), the signed status endpoint polled by the bot (/status), plus
// health and metrics. Every request carries a correlation id for logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otr-discord-bot/linkbridge/protocol"
)

// Default per-IP budgets per window. The bot polls /status every few seconds
// for each running flow, so its budget is far larger.
const (
	defaultCallbackRequestsPerIP = 10
	defaultStatusRequestsPerIP   = 600
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutines.
func NewMux(ctx context.Context, h *Handlers) http.Handler {
	callbackLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig("RATE_LIMIT_REQUESTS_PER_IP", defaultCallbackRequestsPerIP))
	statusLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig("RATE_LIMIT_STATUS_REQUESTS_PER_IP", defaultStatusRequestsPerIP))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle(protocol.CallbackPath, rateLimitMiddleware(http.HandlerFunc(h.HandleCallback), callbackLimiter))
	mux.Handle(protocol.StatusPath, rateLimitMiddleware(http.HandlerFunc(h.HandleStatus), statusLimiter))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return withCorrelation(recoverMiddleware(mux))
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, h *Handlers, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, h),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second, // callback waits on osu!
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
