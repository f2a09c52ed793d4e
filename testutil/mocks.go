package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockOsuServer is a test server standing in for osu.ppy.sh. It serves the
// token endpoint and /api/v2/me; handlers can be replaced per path.
type MockOsuServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu         sync.Mutex
	tokenForms []url.Values
}

// NewMockOsuServer creates a mock server with no handlers registered.
func NewMockOsuServer(t *testing.T) *MockOsuServer {
	t.Helper()
	m := &MockOsuServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockTokenResponse makes /oauth/token accept code and answer with accessToken.
// Any other code gets the provider's invalid_grant error.
func (m *MockOsuServer) MockTokenResponse(code, accessToken string) {
	m.Handlers["/oauth/token"] = func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		m.mu.Lock()
		m.tokenForms = append(m.tokenForms, r.PostForm)
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != code {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck // test mock response
				"error":             "invalid_grant",
				"error_description": "The provided authorization grant is invalid",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"access_token":  accessToken,
			"refresh_token": "refresh-" + accessToken,
			"expires_in":    86400,
			"token_type":    "Bearer",
		})
	}
}

// MockMeResponse makes /api/v2/me return the given user for accessToken.
func (m *MockOsuServer) MockMeResponse(accessToken string, id int64, username string) {
	m.Handlers["/api/v2/me"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"id":           id,
			"username":     username,
			"country_code": "AU",
		})
	}
}

// TokenForms returns the form bodies received by the token endpoint.
func (m *MockOsuServer) TokenForms() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.tokenForms...)
}
