package valorant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

func player(name, tag, team string, kills, deaths, hs, bs, ls, ult int) map[string]any {
	return map[string]any{
		"name":    name,
		"tag":     tag,
		"team_id": team,
		"stats": map[string]any{
			"kills": kills, "deaths": deaths, "assists": 3,
			"headshots": hs, "bodyshots": bs, "legshots": ls,
		},
		"ability_casts": map[string]any{"ultimate": ult},
	}
}

func match(id string, players ...map[string]any) map[string]any {
	return map[string]any{
		"metadata": map[string]any{"match_id": id},
		"players":  players,
		"teams": []map[string]any{
			{"team_id": "Red", "won": true},
			{"team_id": "Blue", "won": false},
		},
	}
}

type seenRequest struct {
	mu  sync.Mutex
	url *url.URL
	hdr http.Header
}

func (s *seenRequest) URL() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *seenRequest) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdr
}

// historyServer serves the given matches and records the last request.
func historyServer(t *testing.T, status int, matches []map[string]any) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.url, seen.hdr = r.URL, r.Header.Clone()
		seen.mu.Unlock()
		w.Header().Set("X-Ratelimit-Remaining", "29")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 200, "data": matches})
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func newTestAggregator(srv *httptest.Server) (*Aggregator, *Client) {
	c := NewClient(ClientOptions{APIKey: "HDEV-key", BaseURL: srv.URL})
	return NewAggregator(c), c
}

func TestSummarizeTenMatches(t *testing.T) {
	var ms []map[string]any
	for i := 0; i < 10; i++ {
		// kills=50 deaths=25 over ten matches
		k, d := 5, 2
		if i%2 == 0 {
			d = 3
		}
		ms = append(ms, match(fmt.Sprintf("m%d", i),
			player("Streamer", "AP1", "Red", k, d, 2, 7, 1, 1),
			player("Other", "0000", "Blue", 20, 20, 9, 9, 9, 9),
		))
	}
	srv, seen := historyServer(t, http.StatusOK, ms)
	agg, client := newTestAggregator(srv)

	s, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Kills != 50 || s.Deaths != 25 {
		t.Fatalf("totals kills=%d deaths=%d", s.Kills, s.Deaths)
	}
	if s.KDA != 2.00 {
		t.Errorf("kda=%v want 2.00", s.KDA)
	}
	if s.PerGame.Kills != 5 {
		t.Errorf("killsPerGame=%d want 5", s.PerGame.Kills)
	}
	if s.PerGame.Deaths != 2 || s.PerGame.Bodyshots != 7 || s.PerGame.Ultimate != 1 {
		t.Errorf("per game %+v", s.PerGame)
	}
	if s.Found != 10 || s.Wins != 10 || s.LatestMatchID != "m0" {
		t.Errorf("found=%d wins=%d latest=%q", s.Found, s.Wins, s.LatestMatchID)
	}

	if got := seen.URL().Path; got != "/valorant/v4/matches/ap/pc/Streamer/AP1" {
		t.Errorf("path=%s", got)
	}
	if got := seen.URL().Query().Get("size"); got != "10" {
		t.Errorf("size=%s", got)
	}
	if got := seen.Header().Get("Authorization"); got != "HDEV-key" {
		t.Errorf("authorization=%q", got)
	}
	if client.RateLimit().Remaining != 29 {
		t.Errorf("rate limit not tracked: %+v", client.RateLimit())
	}
}

func TestSummarizeMissingPlayerContributesZero(t *testing.T) {
	ms := []map[string]any{
		match("m1", player("Streamer", "AP1", "Red", 12, 6, 4, 10, 2, 3)),
		match("m2", player("Someone", "AP1", "Red", 40, 1, 40, 0, 0, 9)),
		match("m3", player("streamer", "AP1", "Red", 40, 1, 40, 0, 0, 9)),
	}
	srv, _ := historyServer(t, http.StatusOK, ms)
	agg, _ := newTestAggregator(srv)

	s, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Found != 1 || s.Kills != 12 || s.Deaths != 6 || s.Ultimate != 3 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.KDA != 2 {
		t.Errorf("kda=%v", s.KDA)
	}
	// divided by the window, not by matches found
	if s.PerGame.Kills != 1 || s.PerGame.Bodyshots != 1 || s.PerGame.Headshots != 0 {
		t.Errorf("per game %+v", s.PerGame)
	}
}

func TestSummarizeZeroDeaths(t *testing.T) {
	srv, _ := historyServer(t, http.StatusOK, []map[string]any{
		match("m1", player("Streamer", "AP1", "Red", 7, 0, 0, 0, 0, 0)),
	})
	agg, _ := newTestAggregator(srv)
	s, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if s.KDA != 7 {
		t.Errorf("kda=%v want 7", s.KDA)
	}
}

func TestSummarizeRoundsKDA(t *testing.T) {
	srv, _ := historyServer(t, http.StatusOK, []map[string]any{
		match("m1", player("Streamer", "AP1", "Red", 10, 3, 0, 0, 0, 0)),
	})
	agg, _ := newTestAggregator(srv)
	s, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if s.KDA != 3.33 {
		t.Errorf("kda=%v want 3.33", s.KDA)
	}
}

func TestSummarizeUnauthorized(t *testing.T) {
	srv, _ := historyServer(t, http.StatusUnauthorized, nil)
	agg, _ := newTestAggregator(srv)

	_, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	var fe *StatsFetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected StatsFetchError, got %v", err)
	}
	if !fe.Unauthorized() || fe.Status != http.StatusUnauthorized {
		t.Errorf("status=%d", fe.Status)
	}
}

func TestSummarizeTransportFailure(t *testing.T) {
	srv, _ := historyServer(t, http.StatusOK, nil)
	srv.Close()
	agg, _ := newTestAggregator(srv)

	_, err := agg.Summarize(context.Background(), "Streamer#AP1", 10)
	var fe *StatsFetchError
	if !errors.As(err, &fe) || fe.Status != 0 {
		t.Fatalf("expected transport StatsFetchError, got %v", err)
	}
}

func TestSummarizeBadHandle(t *testing.T) {
	agg := NewAggregator(NewClient(ClientOptions{}))
	_, err := agg.Summarize(context.Background(), "no-tag", 10)
	if !errors.Is(err, ErrBadHandle) {
		t.Fatalf("expected ErrBadHandle, got %v", err)
	}
}

func TestLatest(t *testing.T) {
	srv, seen := historyServer(t, http.StatusOK, []map[string]any{
		match("m9", player("Streamer", "AP1", "Blue", 18, 14, 0, 0, 0, 0)),
	})
	agg, _ := newTestAggregator(srv)

	r, err := agg.Latest(context.Background(), "Streamer#AP1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if r.MatchID != "m9" || !r.Found || r.Won || r.Kills != 18 || r.Deaths != 14 {
		t.Errorf("unexpected result %+v", r)
	}
	if got := seen.URL().Query().Get("size"); got != "1" {
		t.Errorf("size=%s", got)
	}
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		in        string
		name, tag string
		wantErr   bool
	}{
		{in: "Streamer#AP1", name: "Streamer", tag: "AP1"},
		{in: "two words#tag", name: "two words", tag: "tag"},
		{in: "Streamer", wantErr: true},
		{in: "#AP1", wantErr: true},
		{in: "Streamer#", wantErr: true},
	}
	for _, tt := range tests {
		name, tag, err := ParseHandle(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseHandle(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || name != tt.name || tag != tt.tag {
			t.Errorf("ParseHandle(%q) = %q, %q, %v", tt.in, name, tag, err)
		}
	}
}
