package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer creates a test server that mocks the Twitch identity
// provider and Helix API. Requests are routed by URL path only, so the
// same server answers for id.twitch.tv and api.twitch.tv.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	hits map[string]int
}

// NewMockTwitchServer creates a new mock Twitch server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.hits[key]++
		m.mu.Unlock()
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Hits returns how many requests reached path.
func (m *MockTwitchServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// HTTPClient returns a client whose requests to any host are redirected to the mock server.
func (m *MockTwitchServer) HTTPClient() *http.Client {
	return RewriteClient(m.URL)
}

// RewriteClient returns an http.Client that sends every request to target
// (scheme+host), preserving path and query.
func RewriteClient(target string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{Transport: http.DefaultTransport, host: target}}
}

type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	host := strings.TrimPrefix(t.host, "http://")
	host = strings.TrimPrefix(host, "https://")
	req.URL.Host = host
	req.Host = host
	return t.Transport.RoundTrip(req)
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]any{
			"data": []map[string]string{{"id": userID, "login": login, "display_name": login}},
		})
	}
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]any{"data": streams})
	}
}

// MockOAuthTokenResponse adds a handler for the token endpoint that answers
// every grant with the same pair.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int, scopes []string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"scope":         scopes,
			"token_type":    "bearer",
		})
	}
}

// MockValidateResponse adds a handler for /oauth2/validate that accepts any token.
func (m *MockTwitchServer) MockValidateResponse(userID, login string, scopes []string) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			JSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "missing authorization token"})
			return
		}
		JSON(w, http.StatusOK, map[string]any{
			"client_id":  "test-client-id",
			"login":      login,
			"user_id":    userID,
			"scopes":     scopes,
			"expires_in": 3600,
		})
	}
}
