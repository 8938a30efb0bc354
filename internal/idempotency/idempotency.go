// Package idempotency implements the Idempotency Gate of spec §4.8: a
// SetNX-based check against the client-supplied idempotency key, grounded
// on the kvstore.Store.SetNX primitive the same way the teacher guards
// against duplicate document ingestion in its pipeline eventbus
// (internal/pipeline/eventbus.go dedupes by event id before publish).
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/internal/kvstore"
)

// MinTTL is the minimum retention for an idempotency key (spec §3: TTL >= 24h).
const MinTTL = 24 * time.Hour

// Gate enforces idempotency-key uniqueness per team.
type Gate struct {
	store kvstore.Store
	ttl   time.Duration
}

// New builds a Gate with the given retention TTL, clamped to MinTTL.
func New(store kvstore.Store, ttl time.Duration) *Gate {
	if ttl < MinTTL {
		ttl = MinTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// Check validates that key is a well-formed UUID and has not been used by
// teamID before. It returns an apierr.KindIdempotency error (HTTP 409) on
// replay, and apierr.KindValidation if key is not a UUID.
func (g *Gate) Check(ctx context.Context, teamID, key string) error {
	if key == "" {
		return nil
	}
	if _, err := uuid.Parse(key); err != nil {
		return apierr.New(apierr.KindValidation, fmt.Errorf("idempotency key must be a UUID: %w", err))
	}

	storeKey := kvstore.IdempotencyKey(teamID + ":" + key)
	inserted, err := g.store.SetNX(ctx, storeKey, []byte(time.Now().Format(time.RFC3339Nano)), g.ttl)
	if err != nil {
		return err
	}
	if !inserted {
		return apierr.New(apierr.KindIdempotency, errors.New("Idempotency key already used"))
	}
	return nil
}
