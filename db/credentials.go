package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/matchpoll/backend/crypto"
)

// Role says which account a credential belongs to.
type Role string

const (
	RoleStreamer Role = "streamer"
	RoleBot      Role = "bot"
)

// ParseRole accepts "streamer" or "bot".
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStreamer:
		return RoleStreamer, nil
	case RoleBot:
		return RoleBot, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// ErrNoCredential is returned when no record exists for a role.
var ErrNoCredential = errors.New("no credential stored for role")

// TokenRecord is one persisted OAuth credential, keyed by (AccountID, Role).
type TokenRecord struct {
	AccountID    string
	Role         Role
	Login        string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore persists TokenRecords. When Enc is non-nil, token columns are
// sealed with AES-GCM (encryption_version=1); plaintext rows (version 0) remain readable.
type CredentialStore struct {
	DB  *sql.DB
	Enc crypto.Encryptor
}

// Upsert inserts or replaces the record for (AccountID, Role).
func (s *CredentialStore) Upsert(ctx context.Context, rec *TokenRecord) error {
	if rec.AccountID == "" || rec.Role == "" {
		return &PersistenceError{Op: "upsert credential", Err: errors.New("account id and role are required")}
	}
	access, refresh, version := rec.AccessToken, rec.RefreshToken, 0
	if s.Enc != nil {
		var err error
		if access, err = crypto.EncryptString(s.Enc, rec.AccessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(s.Enc, rec.RefreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version = 1
	}
	var expires sql.NullTime
	if !rec.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: rec.ExpiresAt, Valid: true}
	}
	q := `INSERT INTO credentials(account_id, role, login, access_token, refresh_token, scopes, expires_at, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		  ON CONFLICT(account_id, role) DO UPDATE SET
		    login=EXCLUDED.login,
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    scopes=EXCLUDED.scopes,
		    expires_at=EXCLUDED.expires_at,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	if _, err := s.DB.ExecContext(ctx, q, rec.AccountID, string(rec.Role), rec.Login, access, refresh,
		strings.Join(rec.Scopes, " "), expires, version); err != nil {
		return &PersistenceError{Op: "upsert credential", Err: err}
	}
	return nil
}

// Get returns the most recently updated record for role, or ErrNoCredential.
func (s *CredentialStore) Get(ctx context.Context, role Role) (*TokenRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT account_id, role, login, access_token, refresh_token, scopes, expires_at, encryption_version, updated_at
		 FROM credentials WHERE role=$1 ORDER BY updated_at DESC LIMIT 1`, string(role))
	var (
		rec     TokenRecord
		r       string
		scopes  string
		expires sql.NullTime
		version int
	)
	err := row.Scan(&rec.AccountID, &r, &rec.Login, &rec.AccessToken, &rec.RefreshToken, &scopes, &expires, &version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get credential", Err: err}
	}
	rec.Role = Role(r)
	rec.Scopes = strings.Fields(scopes)
	if expires.Valid {
		rec.ExpiresAt = expires.Time
	}
	if version == 1 {
		if s.Enc == nil {
			return nil, errors.New("credential is encrypted but ENCRYPTION_KEY not configured")
		}
		if rec.AccessToken, err = crypto.DecryptString(s.Enc, rec.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if rec.RefreshToken, err = crypto.DecryptString(s.Enc, rec.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &rec, nil
}

// Roles lists which roles have a stored credential.
func (s *CredentialStore) Roles(ctx context.Context) ([]Role, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT role FROM credentials ORDER BY role`)
	if err != nil {
		return nil, &PersistenceError{Op: "list roles", Err: err}
	}
	defer func() { _ = rows.Close() }()
	var out []Role
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, &PersistenceError{Op: "list roles", Err: err}
		}
		out = append(out, Role(r))
	}
	return out, rows.Err()
}
