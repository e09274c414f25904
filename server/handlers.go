package server

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/matchpoll/backend/db"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// CodeExchanger redeems an authorization code for a role.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string, role db.Role) (*db.TokenRecord, error)
}

// RoleLister reports which roles have a stored credential.
type RoleLister interface {
	Roles(ctx context.Context) ([]db.Role, error)
}

// PollLister lists stored poll state.
type PollLister interface {
	List(ctx context.Context) ([]db.PollState, error)
}

type oauthState struct {
	role   db.Role
	expiry time.Time
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps       Deps
	stateStore map[string]oauthState
	stateMu    sync.Mutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, stateStore: make(map[string]oauthState)}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, st := range h.stateStore {
		if now.After(st.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state for role. It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, role db.Role) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = oauthState{role: role, expiry: time.Now().Add(oauthStateTTL)}
	return true
}

// takeOAuthState consumes state and returns the role it was issued for.
func (h *Handlers) takeOAuthState(state string) (db.Role, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	st, ok := h.stateStore[state]
	if !ok {
		return "", false
	}
	delete(h.stateStore, state)
	if time.Now().After(st.expiry) {
		return "", false
	}
	return st.role, true
}
