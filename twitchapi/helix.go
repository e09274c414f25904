// Package twitchapi contains minimal helpers for the Twitch identity provider
// (code exchange, refresh, validation) and the Helix endpoints the bot needs:
// user lookup, live status and moderator management.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls used by the bot. App-token calls use
// AppTokenSource; moderator calls take an explicit user token.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// Stream is a live broadcast as returned by /helix/streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	GameName  string    `json:"game_name"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// User is a Twitch account as returned by /helix/users.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// do performs one Helix request with the given bearer token and decodes a 2xx
// JSON body into out (if non-nil).
func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, token string, out any) error {
	u := helixBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{Endpoint: path, Status: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// withAppToken runs fn with the app token, dropping the cached token and
// retrying exactly once on a 401.
func (hc *HelixClient) withAppToken(ctx context.Context, fn func(token string) error) error {
	if hc.AppTokenSource == nil {
		return errors.New("helix: no app token source")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	err = fn(tok)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}
	hc.AppTokenSource.Invalidate()
	if tok, err = hc.AppTokenSource.Get(ctx); err != nil {
		return err
	}
	return fn(tok)
}

// GetUser resolves a login name to its user record.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	err := hc.withAppToken(ctx, func(tok string) error {
		return hc.do(ctx, http.MethodGet, "/users", url.Values{"login": {login}}, tok, &body)
	})
	if err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &body.Data[0], nil
}

// GetStreams returns the live streams for a login; empty means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	err := hc.withAppToken(ctx, func(tok string) error {
		return hc.do(ctx, http.MethodGet, "/streams", url.Values{"user_login": {login}}, tok, &body)
	})
	if err != nil {
		return nil, err
	}
	return body.Data, nil
}

// IsLive reports whether the channel currently has an active broadcast.
func (hc *HelixClient) IsLive(ctx context.Context, login string) (bool, error) {
	streams, err := hc.GetStreams(ctx, login)
	if err != nil {
		return false, err
	}
	return len(streams) > 0, nil
}

// IsModerator reports whether userID moderates broadcasterID. It needs a
// broadcaster token with moderation:read.
func (hc *HelixClient) IsModerator(ctx context.Context, userToken, broadcasterID, userID string) (bool, error) {
	var body struct {
		Data []struct {
			UserID string `json:"user_id"`
		} `json:"data"`
	}
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	if err := hc.do(ctx, http.MethodGet, "/moderation/moderators", q, userToken, &body); err != nil {
		return false, err
	}
	for _, m := range body.Data {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// AddModerator grants moderator status. It needs a broadcaster token with channel:manage:moderators.
func (hc *HelixClient) AddModerator(ctx context.Context, userToken, broadcasterID, userID string) error {
	q := url.Values{"broadcaster_id": {broadcasterID}, "user_id": {userID}}
	return hc.do(ctx, http.MethodPost, "/moderation/moderators", q, userToken, nil)
}
