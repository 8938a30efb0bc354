// Package billing declares the Billing boundary of spec §6.1:
// check_credits/bill, used pre- and post-flight by the core, which may
// clamp a crawl's limit to remaining credits.
package billing

import (
	"context"
	"sync"
)

// Provider is the Billing boundary.
type Provider interface {
	CheckCredits(ctx context.Context, teamID string, n int64) (ok bool, remaining int64, err error)
	Bill(ctx context.Context, teamID string, n int64) error
}

// Unlimited is a Provider that never declines and never tracks usage, used
// in tests and for teams with bypass_billing set (spec §3
// internal_options.bypass_billing).
type Unlimited struct{}

func (Unlimited) CheckCredits(ctx context.Context, teamID string, n int64) (bool, int64, error) {
	return true, -1, nil
}

func (Unlimited) Bill(ctx context.Context, teamID string, n int64) error { return nil }

// InMemory is a simple ledger-backed Provider for tests: each team starts
// with a configured balance that Bill decrements.
type InMemory struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewInMemory(initial map[string]int64) *InMemory {
	balances := make(map[string]int64, len(initial))
	for k, v := range initial {
		balances[k] = v
	}
	return &InMemory{balances: balances}
}

func (m *InMemory) CheckCredits(ctx context.Context, teamID string, n int64) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[teamID]
	return bal >= n, bal, nil
}

func (m *InMemory) Bill(ctx context.Context, teamID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[teamID] -= n
	return nil
}
