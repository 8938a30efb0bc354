// Package auth declares the Auth boundary of spec §6.1:
// authenticate(request) -> {team_id, plan, flags}.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no credential matches.
var ErrUnauthenticated = errors.New("auth: request not authenticated")

// Identity is the resolved caller identity.
type Identity struct {
	TeamID string
	Plan   string
	Flags  map[string]bool
}

// Provider is the Auth boundary.
type Provider interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// APIKey is a reference Provider matching a static map of bearer tokens
// to identities, suitable for self-hosted or test deployments where a
// full auth database is out of scope (spec §1: Auth DB is an external
// collaborator, not implemented here).
type APIKey struct {
	keys map[string]Identity
}

func NewAPIKey(keys map[string]Identity) *APIKey {
	return &APIKey{keys: keys}
}

func (a *APIKey) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	authz := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authz, "Bearer ")
	if token == "" || token == authz {
		return Identity{}, ErrUnauthenticated
	}
	id, ok := a.keys[token]
	if !ok {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}
