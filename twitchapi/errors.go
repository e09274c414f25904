package twitchapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched (errors.Is) by any error caused by an HTTP 401
// from Twitch. Callers use it to trigger a single refresh-and-retry.
var ErrUnauthorized = errors.New("twitch: unauthorized")

// AuthExchangeError reports a rejected authorization_code grant or a network failure during it.
type AuthExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twitch auth code exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("twitch auth code exchange failed: %d: %s", e.Status, e.Body)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// InvalidTokenError is returned when /oauth2/validate rejects a token.
type InvalidTokenError struct {
	Status int
	Body   string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("twitch token invalid: %d: %s", e.Status, e.Body)
}

func (e *InvalidTokenError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// RefreshError reports a failed refresh_token grant. A provider rejection (4xx)
// is terminal for the role until it is re-authorized.
type RefreshError struct {
	Status int
	Body   string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("twitch refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("twitch refresh failed: %d: %s", e.Status, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Terminal reports whether the provider rejected the refresh token outright
// (revoked or invalid) as opposed to a transient transport failure.
func (e *RefreshError) Terminal() bool {
	return e.Err == nil && e.Status >= 400 && e.Status < 500
}

// APIError is a non-2xx response from Helix.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix %s: %d: %s", e.Endpoint, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}
