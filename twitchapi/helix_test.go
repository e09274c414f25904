package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/onnwee/matchpoll/backend/testutil"
)

func newTestHelix(m *testutil.MockTwitchServer) *HelixClient {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: m.HTTPClient()}
	ts.SetToken("test-token", time.Now().Add(time.Hour))
	return &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: m.HTTPClient()}
}

func TestHelixClient_GetStreams(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_login"); got != "livechannel" {
			t.Errorf("user_login=%q want livechannel", got)
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		testutil.JSON(w, http.StatusOK, map[string]any{
			"data": []map[string]string{{"title": "Live Now", "started_at": "2024-10-15T14:30:00Z"}},
		})
	}
	hc := newTestHelix(m)

	live, err := hc.IsLive(context.Background(), "livechannel")
	if err != nil {
		t.Fatalf("IsLive() error = %v", err)
	}
	if !live {
		t.Fatal("expected channel to be live")
	}
}

func TestHelixClient_GetStreamsOffline(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockStreamsResponse([]map[string]any{})
	live, err := newTestHelix(m).IsLive(context.Background(), "quiet")
	if err != nil {
		t.Fatalf("IsLive() error = %v", err)
	}
	if live {
		t.Fatal("expected offline")
	}
}

func TestHelixClient_AppToken401RetriesOnce(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("fresh-token", "", 3600, nil)
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			testutil.JSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid OAuth token"})
			return
		}
		testutil.JSON(w, http.StatusOK, map[string]any{"data": []map[string]string{{"id": "7", "login": "x"}}})
	}
	hc := newTestHelix(m)

	u, err := hc.GetUser(context.Background(), "x")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.ID != "7" {
		t.Errorf("id=%q want 7", u.ID)
	}
	if got := m.Hits("/helix/users"); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := m.Hits("/oauth2/token"); got != 1 {
		t.Errorf("expected 1 token fetch, got %d", got)
	}
}

func TestHelixClient_Persistent401Surfaces(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockOAuthTokenResponse("still-bad", "", 3600, nil)
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.JSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid OAuth token"})
	}
	_, err := newTestHelix(m).GetStreams(context.Background(), "chan")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := m.Hits("/helix/streams"); got != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", got)
	}
}

func TestEnsureModerator(t *testing.T) {
	tests := []struct {
		name      string
		already   bool
		addStatus int
		wantErr   bool
		wantAdds  int
	}{
		{name: "already moderator", already: true, wantAdds: 0},
		{name: "added", addStatus: http.StatusNoContent, wantAdds: 1},
		{name: "add forbidden", addStatus: http.StatusForbidden, wantErr: true, wantAdds: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testutil.NewMockTwitchServer(t)
			adds := 0
			m.Handlers["/helix/moderation/moderators"] = func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer streamer-token" {
					t.Errorf("moderation call must use the user token")
				}
				if r.Method == http.MethodPost {
					adds++
					w.WriteHeader(tt.addStatus)
					return
				}
				data := []map[string]string{}
				if tt.already {
					data = append(data, map[string]string{"user_id": "bot-id"})
				}
				testutil.JSON(w, http.StatusOK, map[string]any{"data": data})
			}
			hc := newTestHelix(m)
			with := func(ctx context.Context, fn func(string) error) error { return fn("streamer-token") }
			err := EnsureModerator(context.Background(), hc, with, "b-id", "bot-id", "bot")
			if (err != nil) != tt.wantErr {
				t.Fatalf("EnsureModerator() err=%v wantErr=%v", err, tt.wantErr)
			}
			if adds != tt.wantAdds {
				t.Errorf("adds=%d want %d", adds, tt.wantAdds)
			}
		})
	}
}

func TestHelixClient_GetUser(t *testing.T) {
	m := testutil.NewMockTwitchServer(t)
	m.MockUserResponse("1234", "caster")
	hc := newTestHelix(m)

	u, err := hc.GetUser(context.Background(), "caster")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if u.ID != "1234" || u.Login != "caster" {
		t.Errorf("user = %+v", u)
	}
}
