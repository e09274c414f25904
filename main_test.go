package main

import (
	"bytes"
	"context"
	"errors"
	"go/format"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/oauth"
	"github.com/onnwee/matchpoll/backend/twitchapi"
)

type memStore struct {
	mu   sync.Mutex
	recs map[db.Role]db.TokenRecord
}

func (s *memStore) Upsert(_ context.Context, rec *db.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Role] = *rec
	return nil
}

func (s *memStore) Get(_ context.Context, role db.Role) (*db.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[role]
	if !ok {
		return nil, db.ErrNoCredential
	}
	return &rec, nil
}

type fakeIDP struct {
	refresh       func(rt string) (*twitchapi.TokenResult, error)
	validate      func(at string) (*twitchapi.Validation, error)
	refreshCalls  int
	validateCalls int
}

func (f *fakeIDP) ExchangeAuthCode(context.Context, string) (*twitchapi.TokenResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeIDP) RefreshToken(_ context.Context, rt string) (*twitchapi.TokenResult, error) {
	f.refreshCalls++
	return f.refresh(rt)
}

func (f *fakeIDP) Validate(_ context.Context, at string) (*twitchapi.Validation, error) {
	f.validateCalls++
	return f.validate(at)
}

var botScopes = []string{"chat:read", "chat:edit"}

func newBotManager(idp *fakeIDP) *oauth.Manager {
	store := &memStore{recs: map[db.Role]db.TokenRecord{
		db.RoleBot: {AccountID: "b1", Role: db.RoleBot, Login: "bot", AccessToken: "at", RefreshToken: "rt"},
	}}
	return oauth.NewManager(idp, store)
}

func validWith(scopes ...string) func(string) (*twitchapi.Validation, error) {
	return func(string) (*twitchapi.Validation, error) {
		return &twitchapi.Validation{Login: "bot", UserID: "b1", Scopes: scopes}, nil
	}
}

func TestPrepareBotSession(t *testing.T) {
	newToken := func(string) (*twitchapi.TokenResult, error) {
		return &twitchapi.TokenResult{AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: 3600}, nil
	}
	tests := []struct {
		name              string
		credentialFailure bool
		refresh           func(string) (*twitchapi.TokenResult, error)
		validate          func(string) (*twitchapi.Validation, error)
		wantErr           bool
		wantRefresh       int
		wantValidate      int
	}{
		{
			name:         "ordinary reconnect still validates",
			validate:     validWith(botScopes...),
			wantValidate: 1,
		},
		{
			name:         "scope removed while connected stops the bot",
			validate:     validWith("chat:read"),
			wantErr:      true,
			wantValidate: 1,
		},
		{
			name:              "credential failure refreshes then validates",
			credentialFailure: true,
			refresh:           newToken,
			validate:          validWith(botScopes...),
			wantRefresh:       1,
			wantValidate:      1,
		},
		{
			name:              "revoked refresh token stops the bot",
			credentialFailure: true,
			refresh: func(string) (*twitchapi.TokenResult, error) {
				return nil, &twitchapi.RefreshError{Status: http.StatusBadRequest, Body: "Invalid refresh token"}
			},
			validate:    validWith(botScopes...),
			wantErr:     true,
			wantRefresh: 1,
		},
		{
			name:              "transient refresh failure falls through to validation",
			credentialFailure: true,
			refresh: func(string) (*twitchapi.TokenResult, error) {
				return nil, &twitchapi.RefreshError{Err: errors.New("connection reset")}
			},
			validate:     validWith(botScopes...),
			wantRefresh:  1,
			wantValidate: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idp := &fakeIDP{refresh: tt.refresh, validate: tt.validate}
			err := prepareBotSession(context.Background(), newBotManager(idp), botScopes, tt.credentialFailure, time.Millisecond)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if idp.refreshCalls != tt.wantRefresh {
				t.Errorf("refresh calls=%d want %d", idp.refreshCalls, tt.wantRefresh)
			}
			if idp.validateCalls != tt.wantValidate {
				t.Errorf("validate calls=%d want %d", idp.validateCalls, tt.wantValidate)
			}
		})
	}
}

func TestPrepareBotSessionScopeLossIsInsufficientScope(t *testing.T) {
	idp := &fakeIDP{validate: validWith("chat:read")}
	err := prepareBotSession(context.Background(), newBotManager(idp), botScopes, false, time.Millisecond)
	var serr *oauth.InsufficientScopeError
	if !errors.As(err, &serr) || len(serr.Missing) != 1 || serr.Missing[0] != "chat:edit" {
		t.Fatalf("expected missing chat:edit, got %v", err)
	}
}

func TestPrepareBotSessionRetriesTransientValidation(t *testing.T) {
	idp := &fakeIDP{}
	idp.validate = func(string) (*twitchapi.Validation, error) {
		if idp.validateCalls < 3 {
			return nil, errors.New("dial tcp: i/o timeout")
		}
		return &twitchapi.Validation{Login: "bot", Scopes: botScopes}, nil
	}
	if err := prepareBotSession(context.Background(), newBotManager(idp), botScopes, false, time.Millisecond); err != nil {
		t.Fatalf("prepareBotSession: %v", err)
	}
	if idp.validateCalls != 3 {
		t.Fatalf("validate calls=%d want 3", idp.validateCalls)
	}
}

func TestPrepareBotSessionStopsWithContext(t *testing.T) {
	idp := &fakeIDP{validate: func(string) (*twitchapi.Validation, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := prepareBotSession(ctx, newBotManager(idp), botScopes, false, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSourcesAreFormatted(t *testing.T) {
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		formatted, err := format.Source(src)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			return nil
		}
		if !bytes.Equal(src, formatted) {
			t.Errorf("%s is not gofmt-clean", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
