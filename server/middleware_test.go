package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRateLimiter(t *testing.T) {
	cfg := &rateLimiterConfig{
		enabled:       true,
		requestsPerIP: 3,
		window:        100 * time.Millisecond,
	}
	limiter := newIPRateLimiter(context.Background(), cfg)

	for i := 0; i < 3; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed", i+1)
		}
	}
	if limiter.allow("192.168.1.1") {
		t.Error("request 4 should be denied (rate limit exceeded)")
	}
	if !limiter.allow("192.168.1.2") {
		t.Error("another IP should not share the budget")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.allow("192.168.1.1") {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	cfg := &rateLimiterConfig{
		enabled:       false,
		requestsPerIP: 1,
		window:        1 * time.Second,
	}
	limiter := newIPRateLimiter(context.Background(), cfg)

	for i := 0; i < 100; i++ {
		if !limiter.allow("192.168.1.1") {
			t.Errorf("request %d should be allowed when rate limiter is disabled", i+1)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 5, window: 10 * time.Millisecond}
	limiter := newIPRateLimiter(context.Background(), cfg)
	limiter.allow("192.168.1.1")

	time.Sleep(30 * time.Millisecond)
	limiter.cleanup()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.visitors) != 0 {
		t.Errorf("stale visitors kept: %d", len(limiter.visitors))
	}
}

func TestLoadRateLimiterConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "30")
	t.Setenv("RATE_LIMIT_STATUS_REQUESTS_PER_IP", "42")
	t.Setenv("TRUST_PROXY", "")

	cfg := loadRateLimiterConfig("RATE_LIMIT_STATUS_REQUESTS_PER_IP", 600)
	if !cfg.enabled || cfg.requestsPerIP != 42 || cfg.window != 30*time.Second || cfg.trustProxy {
		t.Errorf("config = %+v", cfg)
	}

	t.Setenv("RATE_LIMIT_ENABLED", "0")
	t.Setenv("RATE_LIMIT_STATUS_REQUESTS_PER_IP", "nope")
	t.Setenv("TRUST_PROXY", "1")
	cfg = loadRateLimiterConfig("RATE_LIMIT_STATUS_REQUESTS_PER_IP", 600)
	if cfg.enabled || cfg.requestsPerIP != 600 || !cfg.trustProxy {
		t.Errorf("config = %+v", cfg)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		trustProxy bool
	}{
		{"remote addr", "192.168.1.1:12345", "", false},
		{"forwarded ignored without proxy", "10.0.0.1:12345", "203.0.113.1", false},
		{"forwarded last hop behind proxy", "10.0.0.1:12345", "203.0.113.1, 198.51.100.7", true},
		{"ipv6 with port", "[2001:db8::1]:12345", "", false},
		{"ipv6 forwarded", "127.0.0.1:8080", "2001:db8::42", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Second, trustProxy: tt.trustProxy}
			handler := rateLimitMiddleware(okHandler(), newIPRateLimiter(context.Background(), cfg))

			send := func() *httptest.ResponseRecorder {
				req := httptest.NewRequest(http.MethodGet, "/status", nil)
				req.RemoteAddr = tt.remoteAddr
				if tt.forwarded != "" {
					req.Header.Set("X-Forwarded-For", tt.forwarded)
				}
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				return rr
			}
			for i := 0; i < 2; i++ {
				if rr := send(); rr.Code != http.StatusOK {
					t.Errorf("request %d: expected 200, got %d", i+1, rr.Code)
				}
			}
			rr := send()
			if rr.Code != http.StatusTooManyRequests {
				t.Errorf("request 3: expected 429, got %d", rr.Code)
			}
			if rr.Header().Get("Retry-After") != "1" {
				t.Errorf("Retry-After = %q, want 1", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr, forwarded string
		trustProxy            bool
		want                  string
	}{
		{"192.168.1.1:12345", "", false, "192.168.1.1"},
		{"[2001:db8::1]:443", "", false, "2001:db8::1"},
		{"10.0.0.1:1", "203.0.113.1", false, "10.0.0.1"},
		{"10.0.0.1:1", "203.0.113.1, 198.51.100.7", true, "198.51.100.7"},
		{"10.0.0.1:1", "", true, "10.0.0.1"},
		{"10.0.0.1:1", " , ", true, "10.0.0.1"},
		{"unix-socket", "", false, "unix-socket"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req, tt.trustProxy); got != tt.want {
			t.Errorf("clientIP(%q, %q, %v) = %q, want %q", tt.remoteAddr, tt.forwarded, tt.trustProxy, got, tt.want)
		}
	}
}

func TestRotatingForwardedForSharesBudget(t *testing.T) {
	cfg := &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute}
	handler := rateLimitMiddleware(okHandler(), newIPRateLimiter(context.Background(), cfg))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/callback", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want the third request limited", codes)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	handler := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("store exploded: secret detail")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/callback", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "Internal server error\n" {
		t.Errorf("body = %q leaks detail", got)
	}
}

func TestWithCorrelation(t *testing.T) {
	handler := withCorrelation(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected a generated X-Correlation-ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}
