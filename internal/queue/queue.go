package queue

import (
	"context"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/pkg/types"
)

// JobQueue is the contract from spec §4.2.
type JobQueue interface {
	Submit(ctx context.Context, u *Unit) error
	Reserve(ctx context.Context, workerID string, leaseTTL time.Duration) (*Unit, error)
	Complete(ctx context.Context, id string, result Result) error
	Fail(ctx context.Context, id string, reason string, retriable bool) error
	Remove(ctx context.Context, id string) error
	State(ctx context.Context, id string) (UnitState, error)
	Get(ctx context.Context, id string) (*Unit, error)
}

// pendingKey is the sorted-set holding every Queued unit, scored by
// priority (lower runs first) with a monotonic tie-break for FIFO ordering
// among equal priorities, grounded on the teacher's CrawlJob.Priority field
// generalized from an in-memory channel to a shared sorted set.
const pendingKey = "queue:pending"

func unitKey(id string) string { return "queue:unit:" + id }

func resultKey(id string) string { return "queue:result:" + id }

// resultTTL bounds how long a completed unit's page result stays
// retrievable via GetResult, mirroring the crawl record's own retention.
const resultTTL = 7 * 24 * time.Hour

// KVJobQueue is a kvstore-backed JobQueue, usable against either
// kvstore.Memory or kvstore.Badger so the same scheduling logic runs in a
// single process or a fleet.
type KVJobQueue struct {
	store kvstore.Store
	seq   uint64
}

func NewKVJobQueue(store kvstore.Store) *KVJobQueue {
	return &KVJobQueue{store: store}
}

func (q *KVJobQueue) score(priority int) float64 {
	n := atomic.AddUint64(&q.seq, 1)
	// priority dominates ordering; the sequence only breaks ties within a
	// priority band, so multiply by a margin wide enough to never collide
	// with the per-priority fractional increment.
	return float64(priority)*1e12 + float64(n%1_000_000_000)
}

func (q *KVJobQueue) Submit(ctx context.Context, u *Unit) error {
	existing, err := q.store.Get(ctx, unitKey(u.ID))
	if err == nil && len(existing) > 0 {
		return nil // idempotent by unit id
	}
	if err != nil && err != kvstore.ErrNotFound {
		return err
	}

	u.State = StateQueued
	enc, err := u.encode()
	if err != nil {
		return err
	}
	if err := q.store.Set(ctx, unitKey(u.ID), enc, 0); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, pendingKey, u.ID, q.score(u.Priority))
}

func (q *KVJobQueue) Reserve(ctx context.Context, workerID string, leaseTTL time.Duration) (*Unit, error) {
	ids, err := q.store.ZRangeByScore(ctx, pendingKey, math.Inf(-1), math.Inf(1))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		u, err := q.Get(ctx, id)
		if err != nil {
			if err == kvstore.ErrNotFound {
				_ = q.store.ZRem(ctx, pendingKey, id)
				continue
			}
			return nil, err
		}
		if u.State != StateQueued {
			_ = q.store.ZRem(ctx, pendingKey, id)
			continue
		}
		if !u.NotBefore.IsZero() && u.NotBefore.After(time.Now()) {
			continue // politeness delay not yet elapsed, leave queued
		}
		if err := q.store.ZRem(ctx, pendingKey, id); err != nil {
			return nil, err
		}
		u.State = StateReserved
		u.ReservedBy = workerID
		u.LeaseExpires = time.Now().Add(leaseTTL)
		if err := q.save(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, nil
}

func (q *KVJobQueue) Complete(ctx context.Context, id string, result Result) error {
	u, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.State.Terminal() {
		return nil
	}
	u.State = StateCompleted
	if err := q.save(ctx, u); err != nil {
		return err
	}
	if result.Page == nil {
		return nil
	}
	enc, err := json.Marshal(result.Page)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, resultKey(id), enc, resultTTL)
}

// GetResult returns the PageResult a unit completed with, or
// kvstore.ErrNotFound if the unit never completed or carried no page.
func (q *KVJobQueue) GetResult(ctx context.Context, id string) (*types.PageResult, error) {
	raw, err := q.store.Get(ctx, resultKey(id))
	if err != nil {
		return nil, err
	}
	var page types.PageResult
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (q *KVJobQueue) Fail(ctx context.Context, id string, reason string, retriable bool) error {
	u, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if u.State.Terminal() {
		return nil
	}
	u.LastError = reason
	u.Retriable = retriable

	if retriable && u.AttemptCount < u.MaxAttempts {
		u.AttemptCount++
		u.State = StateQueued
		u.ReservedBy = ""
		// Exponential backoff: after the 1st, 2nd, 3rd... retriable failure
		// the unit is not reserved again for 1s, 2s, 4s...
		u.NotBefore = time.Now().Add(time.Duration(1<<(u.AttemptCount-1)) * time.Second)
		if err := q.save(ctx, u); err != nil {
			return err
		}
		return q.store.ZAdd(ctx, pendingKey, u.ID, q.score(u.Priority))
	}

	u.State = StateFailed
	return q.save(ctx, u)
}

// Cancel short-circuits a unit straight to Cancelled regardless of its
// current state, used when the owning crawl is cancelled (spec §4.5).
func (q *KVJobQueue) Cancel(ctx context.Context, id string) error {
	u, err := q.Get(ctx, id)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil
		}
		return err
	}
	if u.State.Terminal() {
		return nil
	}
	u.State = StateCancelled
	if err := q.store.ZRem(ctx, pendingKey, id); err != nil {
		return err
	}
	return q.save(ctx, u)
}

func (q *KVJobQueue) Remove(ctx context.Context, id string) error {
	if err := q.store.ZRem(ctx, pendingKey, id); err != nil {
		return err
	}
	return q.store.Delete(ctx, unitKey(id))
}

func (q *KVJobQueue) State(ctx context.Context, id string) (UnitState, error) {
	u, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.State, nil
}

// Get returns kvstore.ErrNotFound when the unit does not exist; writeError
// at the API boundary maps that to 404.
func (q *KVJobQueue) Get(ctx context.Context, id string) (*Unit, error) {
	raw, err := q.store.Get(ctx, unitKey(id))
	if err != nil {
		return nil, err
	}
	return decodeUnit(raw)
}

func (q *KVJobQueue) save(ctx context.Context, u *Unit) error {
	enc, err := u.encode()
	if err != nil {
		return err
	}
	return q.store.Set(ctx, unitKey(u.ID), enc, 0)
}
