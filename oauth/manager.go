// Package oauth owns the credential lifecycle for the streamer and bot
// accounts: code exchange, validation, scope checks, refresh, and the
// refresh-once-then-retry policy for calls that hit a 401.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/telemetry"
	"github.com/onnwee/matchpoll/backend/twitchapi"
)

// IdentityProvider is the subset of twitchapi.IDClient the Manager needs.
type IdentityProvider interface {
	ExchangeAuthCode(ctx context.Context, code string) (*twitchapi.TokenResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*twitchapi.TokenResult, error)
	Validate(ctx context.Context, accessToken string) (*twitchapi.Validation, error)
}

// CredentialStore is the subset of db.CredentialStore the Manager needs.
type CredentialStore interface {
	Upsert(ctx context.Context, rec *db.TokenRecord) error
	Get(ctx context.Context, role db.Role) (*db.TokenRecord, error)
}

// InsufficientScopeError lists the required scopes a token lacks.
type InsufficientScopeError struct {
	Missing []string
}

func (e *InsufficientScopeError) Error() string {
	return "token is missing required scopes: " + strings.Join(e.Missing, ", ")
}

// Manager is the only writer of credential records.
type Manager struct {
	IDP   IdentityProvider
	Store CredentialStore

	mu       sync.Mutex
	terminal map[db.Role]error
}

// NewManager returns a Manager backed by idp and store.
func NewManager(idp IdentityProvider, store CredentialStore) *Manager {
	return &Manager{IDP: idp, Store: store, terminal: make(map[db.Role]error)}
}

// ExchangeCode redeems an authorization code for role, learns the account
// behind it, and upserts the record keyed by (account, role).
func (m *Manager) ExchangeCode(ctx context.Context, code string, role db.Role) (*db.TokenRecord, error) {
	res, err := m.IDP.ExchangeAuthCode(ctx, code)
	if err != nil {
		return nil, err
	}
	v, err := m.IDP.Validate(ctx, res.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("validate exchanged token: %w", err)
	}
	scopes := res.Scope
	if len(scopes) == 0 {
		scopes = v.Scopes
	}
	rec := &db.TokenRecord{
		AccountID:    v.UserID,
		Role:         role,
		Login:        v.Login,
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		Scopes:       scopes,
		ExpiresAt:    twitchapi.ComputeExpiry(res.ExpiresIn),
	}
	if err := m.Store.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.terminal, role)
	m.mu.Unlock()
	slog.Info("credential authorized", slog.String("role", string(role)), slog.String("login", v.Login), slog.String("component", "oauth"))
	return rec, nil
}

// Validate introspects accessToken.
func (m *Manager) Validate(ctx context.Context, accessToken string) (*twitchapi.Validation, error) {
	return m.IDP.Validate(ctx, accessToken)
}

// EnsureScopes fails with *InsufficientScopeError when any of required is absent from scopes.
func EnsureScopes(scopes, required []string) error {
	have := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		have[s] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &InsufficientScopeError{Missing: missing}
	}
	return nil
}

// Token returns the stored access token for role.
func (m *Manager) Token(ctx context.Context, role db.Role) (string, error) {
	rec, err := m.Store.Get(ctx, role)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

// Record returns the stored record for role.
func (m *Manager) Record(ctx context.Context, role db.Role) (*db.TokenRecord, error) {
	return m.Store.Get(ctx, role)
}

// Refresh exchanges role's refresh token and persists the new pair. Once the
// provider rejects a refresh token, the role stays terminal (every call returns
// the same *twitchapi.RefreshError) until ExchangeCode re-authorizes it.
func (m *Manager) Refresh(ctx context.Context, role db.Role) (*db.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.terminal[role]; err != nil {
		return nil, err
	}
	cur, err := m.Store.Get(ctx, role)
	if err != nil {
		return nil, err
	}
	res, err := m.IDP.RefreshToken(ctx, cur.RefreshToken)
	if err != nil {
		var rerr *twitchapi.RefreshError
		if errors.As(err, &rerr) && rerr.Terminal() {
			if m.terminal == nil {
				m.terminal = make(map[db.Role]error)
			}
			m.terminal[role] = err
			slog.Error("refresh token rejected; re-authorization required",
				slog.String("role", string(role)), slog.Any("err", err), slog.String("component", "oauth"))
		}
		telemetry.TokenRefresh(string(role), "error")
		return nil, err
	}
	next := *cur
	next.AccessToken = res.AccessToken
	if res.RefreshToken != "" {
		next.RefreshToken = res.RefreshToken
	}
	if len(res.Scope) > 0 {
		next.Scopes = res.Scope
	}
	next.ExpiresAt = twitchapi.ComputeExpiry(res.ExpiresIn)
	if err := m.Store.Upsert(ctx, &next); err != nil {
		telemetry.TokenRefresh(string(role), "persist_error")
		return nil, err
	}
	telemetry.TokenRefresh(string(role), "ok")
	slog.Info("token refreshed", slog.String("role", string(role)), slog.String("component", "oauth"))
	return &next, nil
}

// Do runs fn with role's access token. If fn fails with twitchapi.ErrUnauthorized,
// Do refreshes once and retries once; a second failure is returned as-is.
func (m *Manager) Do(ctx context.Context, role db.Role, fn func(token string) error) error {
	tok, err := m.Token(ctx, role)
	if err != nil {
		return err
	}
	err = fn(tok)
	if !errors.Is(err, twitchapi.ErrUnauthorized) {
		return err
	}
	rec, rerr := m.Refresh(ctx, role)
	if rerr != nil {
		return errors.Join(err, rerr)
	}
	return fn(rec.AccessToken)
}

// For binds Do to a role, in the shape twitchapi.EnsureModerator expects.
func (m *Manager) For(role db.Role) func(context.Context, func(token string) error) error {
	return func(ctx context.Context, fn func(token string) error) error {
		return m.Do(ctx, role, fn)
	}
}

// ValidateRole is the startup precondition for role: the stored token must
// validate (after at most one refresh) and carry every required scope.
func (m *Manager) ValidateRole(ctx context.Context, role db.Role, required []string) (*twitchapi.Validation, error) {
	var v *twitchapi.Validation
	err := m.Do(ctx, role, func(tok string) error {
		var err error
		v, err = m.IDP.Validate(ctx, tok)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := EnsureScopes(v.Scopes, required); err != nil {
		return nil, err
	}
	return v, nil
}
