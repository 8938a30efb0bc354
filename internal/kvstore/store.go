// Package kvstore provides the shared-state primitive described in spec
// §4.1: a small, atomic key-value abstraction that every other component
// (job queue, concurrency limiter, crawl state machine, idempotency gate)
// builds on so that any worker in a fleet can advance any crawl. The
// interface shape is grounded on the teacher's StorageBackend
// (internal/storage/interface.go): a short, context-first method set with
// a Health check, generalized from document storage to the atomic
// primitives a distributed scheduler needs (TTL, counters, sets, lists,
// sorted sets, pub/sub).
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the shared-state primitive every crawl-orchestration component
// depends on. Implementations must make every individual method call
// atomic; callers compose multi-key updates as a sequence whose partial
// results are tolerable (spec §4.1).
type Store interface {
	// Get/Set — opaque byte values with optional TTL (ttl<=0 means no expiry).
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets key only if it does not already exist, returning whether
	// the set happened. Used by the Idempotency Gate (spec §4.8).
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr — atomic integer counters (CrawlURLSet.done_count etc); a
	// negative delta decrements.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Set ops — used for locked_urls (dedup/lock) and each team's index of
	// ongoing crawls.
	SAdd(ctx context.Context, key string, member string) (added bool, err error)
	SRem(ctx context.Context, key string, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	SIsMember(ctx context.Context, key string, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// List ops — FIFO/LIFO queues (crawl:<id>:jobs, team overflow queues).
	LPush(ctx context.Context, key string, value []byte) error
	RPush(ctx context.Context, key string, value []byte) error
	LPop(ctx context.Context, key string) ([]byte, error)
	RPop(ctx context.Context, key string) ([]byte, error)
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Sorted set ops — active-lease accounting keyed by expiry timestamp.
	ZAdd(ctx context.Context, key string, member string, score float64) error
	ZRem(ctx context.Context, key string, member string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)

	// Pub/sub — crawl cancellation notices (spec §4.5/§5).
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (sub Subscription, err error)

	Health(ctx context.Context) error
	Close() error
}

// Subscription delivers published messages until Close is called or the
// Store is closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Namespacing helpers matching the persisted-state layout of spec §6.2.

func CrawlKey(id string) string            { return "crawl:" + id }
func CrawlVisitedKey(id string) string      { return "crawl:" + id + ":visited" }
func CrawlJobsKey(id string) string         { return "crawl:" + id + ":jobs" }
func CrawlDiscoveryDepthKey(id string) string { return "crawl:" + id + ":depth" }
func CrawlCounterKey(id, name string) string { return "crawl:" + id + ":counters:" + name }
func CrawlCancelChannel(id string) string   { return "crawl:" + id + ":cancel" }
func TeamActiveKey(teamID string) string    { return "team:" + teamID + ":active" }
func TeamOverflowKey(teamID string) string  { return "team:" + teamID + ":overflow" }
func TeamOngoingKey(teamID string) string   { return "team:" + teamID + ":ongoing" }
func IdempotencyKey(key string) string      { return "idemp:" + key }
func UnitKey(id string) string              { return "unit:" + id }
