package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/twitchapi"
)

// HandleTwitchOAuthStart redirects to Twitch to authorize the account for
// ?role=bot|streamer with that role's scopes.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	role, err := db.ParseRole(r.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.deps.ClientID == "" || h.deps.RedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, role) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	var scopes []string
	if h.deps.Scopes != nil {
		scopes = h.deps.Scopes(role)
	}
	authURL, err := twitchapi.BuildAuthorizeURL(h.deps.ClientID, h.deps.RedirectURI, strings.Join(scopes, " "), st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback redeems the code for the role the state was
// issued for and stores the credential.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	role, ok := h.takeOAuthState(st)
	if !ok {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	rec, err := h.deps.Exchanger.ExchangeCode(r.Context(), code, role)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("role", string(role)), slog.Any("err", err))
		status := http.StatusBadGateway
		var ae *twitchapi.AuthExchangeError
		if errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	slog.Info("credential stored", slog.String("role", string(role)), slog.String("login", rec.Login))
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"role":   role,
		"login":  rec.Login,
		"scopes": rec.Scopes,
	})
}
