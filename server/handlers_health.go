package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DB.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the database answers and both roles have
// stored credentials.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.deps.DB.PingContext(r.Context()) }},
		{"credentials", func() error {
			roles, err := h.deps.Credentials.Roles(r.Context())
			if err != nil {
				return err
			}
			for _, want := range []db.Role{db.RoleBot, db.RoleStreamer} {
				if !slices.Contains(roles, want) {
					return fmt.Errorf("missing %s credential", want)
				}
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type channelStatus struct {
	ChannelID     string    `json:"channel_id"`
	PollActive    bool      `json:"poll_active"`
	Game          string    `json:"game,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
	ChatConnected *bool     `json:"chat_connected,omitempty"`
}

// HandleStatus lists the stored poll state of every channel.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := h.deps.Polls.List(r.Context())
	if err != nil {
		slog.Error("status: list poll state", slog.Any("err", err))
		http.Error(w, "status unavailable", http.StatusInternalServerError)
		return
	}
	var chat map[string]bool
	if h.deps.Chat != nil {
		chat = h.deps.Chat()
	}
	out := make([]channelStatus, 0, len(rows))
	for _, row := range rows {
		cs := channelStatus{ChannelID: row.ChannelID, PollActive: row.IsPollActive, Game: row.LastPollGame, UpdatedAt: row.UpdatedAt}
		if c, ok := chat[row.ChannelID]; ok {
			cs.ChatConnected = &c
		}
		out = append(out, cs)
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
