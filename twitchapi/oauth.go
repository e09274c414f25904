package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const idBaseURL = "https://id.twitch.tv"

// Endpoint is the Twitch identity provider for golang.org/x/oauth2.
var Endpoint = oauth2.Endpoint{
	AuthURL:   idBaseURL + "/oauth2/authorize",
	TokenURL:  idBaseURL + "/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// TokenResult is the body of a successful authorization_code or refresh_token grant.
type TokenResult struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// Validation is the body of GET /oauth2/validate.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// IDClient talks to the Twitch identity provider on behalf of one registered application.
type IDClient struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	HTTPClient   *http.Client
}

func (c *IDClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// BuildAuthorizeURL constructs the user authorization URL for the code grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	oc := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Endpoint:    Endpoint,
		Scopes:      strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
	}
	return oc.AuthCodeURL(state), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func (c *IDClient) ExchangeAuthCode(ctx context.Context, code string) (*TokenResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || code == "" || c.RedirectURI == "" {
		return nil, &AuthExchangeError{Err: errors.New("missing required parameter for auth code exchange")}
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.RedirectURI)
	status, body, err := c.postToken(ctx, form)
	if err != nil {
		return nil, &AuthExchangeError{Err: err}
	}
	if status != http.StatusOK {
		return nil, &AuthExchangeError{Status: status, Body: string(body)}
	}
	var res TokenResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &AuthExchangeError{Err: err}
	}
	if res.AccessToken == "" {
		return nil, &AuthExchangeError{Status: status, Body: "empty access_token"}
	}
	return &res, nil
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *IDClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return nil, &RefreshError{Err: errors.New("missing clientID/clientSecret/refreshToken")}
	}
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	status, body, err := c.postToken(ctx, form)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	if status != http.StatusOK {
		return nil, &RefreshError{Status: status, Body: string(body)}
	}
	var res TokenResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &RefreshError{Err: err}
	}
	return &res, nil
}

// Validate introspects an access token. Twitch answers 401 for expired or revoked tokens.
func (c *IDClient) Validate(ctx context.Context, accessToken string) (*Validation, error) {
	if accessToken == "" {
		return nil, &InvalidTokenError{Status: http.StatusUnauthorized, Body: "empty token"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, idBaseURL+"/oauth2/validate", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &InvalidTokenError{Status: resp.StatusCode, Body: string(b)}
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *IDClient) postToken(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, idBaseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
