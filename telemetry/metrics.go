// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Callback outcomes.
const (
	OutcomeLinked    = "linked"
	OutcomeBadState  = "bad_state"
	OutcomeExpired   = "expired"
	OutcomeReplay    = "replay"
	OutcomeUpstream  = "upstream_error"
	OutcomeStoreFail = "store_error"
)

// Status poll outcomes.
const (
	OutcomeComplete     = "complete"
	OutcomePending      = "pending"
	OutcomeUnauthorized = "unauthorized"
	OutcomeBadRequest   = "bad_request"
)

var (
	once sync.Once

	// Worker side
	CallbacksTotal *prometheus.CounterVec // label: outcome
	StatusTotal    *prometheus.CounterVec // label: outcome
	OsuDuration    prometheus.Observer

	// Bot side
	LinkStarted      prometheus.Counter
	LinkCompleted    prometheus.Counter
	LinkExhausted    prometheus.Counter
	LinkRejected     prometheus.Counter     // already in progress for the requester
	PollRequests     *prometheus.CounterVec // label: result
	AttemptsInFlight prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "link_callbacks_total", Help: "OAuth callbacks handled by outcome"}, []string{"outcome"})
		StatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "link_status_requests_total", Help: "Status requests handled by outcome"}, []string{"outcome"})
		OsuDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "link_osu_identify_duration_seconds", Help: "Token exchange plus user lookup duration seconds", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10}})
		LinkStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "link_attempts_started_total", Help: "Link attempts started by the bot"})
		LinkCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "link_attempts_completed_total", Help: "Link attempts that received a result"})
		LinkExhausted = promauto.NewCounter(prometheus.CounterOpts{Name: "link_attempts_exhausted_total", Help: "Link attempts that ran out of polls"})
		LinkRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "link_attempts_rejected_total", Help: "Link requests refused because one was already in progress"})
		PollRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "link_poll_requests_total", Help: "Status polls sent by the bot by result"}, []string{"result"})
		AttemptsInFlight = promauto.NewGauge(prometheus.GaugeOpts{Name: "link_attempts_in_flight", Help: "Link attempts currently awaiting a result"})
	})
}

// IncCallback counts one callback outcome. Safe before Init.
func IncCallback(outcome string) {
	if CallbacksTotal != nil {
		CallbacksTotal.WithLabelValues(outcome).Inc()
	}
}

// IncStatus counts one status outcome. Safe before Init.
func IncStatus(outcome string) {
	if StatusTotal != nil {
		StatusTotal.WithLabelValues(outcome).Inc()
	}
}

// IncPoll counts one bot-side poll. Safe before Init.
func IncPoll(result string) {
	if PollRequests != nil {
		PollRequests.WithLabelValues(result).Inc()
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetInFlight records the number of attempts awaiting a result.
func SetInFlight(n int) {
	if AttemptsInFlight != nil {
		AttemptsInFlight.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
