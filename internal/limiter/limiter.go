// Package limiter implements the Concurrency Limiter of spec §4.3: a
// per-team admission controller over active-job leases and an overflow
// queue, grounded on the teacher's AcademicRateLimiter
// (pkg/ratelimit/academic_limiter.go) — generalized from a fixed table of
// named academic sources to per-team plan limits backed by kvstore so the
// lease/overflow state is shared across a worker fleet rather than held in
// one process's map.
package limiter

import (
	"context"
	"math"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/queue"
)

// Plan names a team's concurrency tier. Limits can be overridden per the
// CRAWLFORGE_PLAN_LIMIT_<PLAN> environment variable (spec §4.3 "with env
// overrides"), mirroring the teacher's getEnv-with-default config pattern.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanGrowth     Plan = "growth"
	PlanEnterprise Plan = "enterprise"
)

var defaultPlanLimits = map[Plan]int{
	PlanFree:       2,
	PlanStarter:    10,
	PlanGrowth:     50,
	PlanEnterprise: 200,
}

// planModifiers scale the priority-escalation formula per plan (spec §4.3).
var planModifiers = map[Plan]float64{
	PlanFree:       4.0,
	PlanStarter:    2.0,
	PlanGrowth:     1.0,
	PlanEnterprise: 0.25,
}

const backlogBucket = 20 // units before escalation kicks in

// Team identifies a team for admission and is resolved by the caller
// (typically the auth adapter, spec §6.1) before calling Admit.
type Team struct {
	ID   string
	Plan Plan
}

// Limiter admits ScrapeUnits onto the Job Queue, respecting per-team
// concurrency. It also holds a golang.org/x/time/rate token bucket per team
// (grounded on the pack's rate-limiting concern, generalized to a token
// bucket per team rather than per academic source), exposed through
// AdmitRate; Admit does not consult it.
type Limiter struct {
	store      kvstore.Store
	jobQueue   *queue.KVJobQueue
	leaseTTL   func(u *queue.Unit) time.Duration
	admitRates map[string]*rate.Limiter
}

// New builds a Limiter. leaseTTL computes the conservative wall-clock lease
// for a unit (a function of its declared timeout plus a safety margin, per
// spec §4.3); if nil, DefaultLeaseTTL is used.
func New(store kvstore.Store, jq *queue.KVJobQueue, leaseTTL func(u *queue.Unit) time.Duration) *Limiter {
	if leaseTTL == nil {
		leaseTTL = DefaultLeaseTTL
	}
	return &Limiter{
		store:      store,
		jobQueue:   jq,
		leaseTTL:   leaseTTL,
		admitRates: make(map[string]*rate.Limiter),
	}
}

// DefaultLeaseTTL returns the unit's effective timeout plus a 15s safety
// margin, bounding how long a crashed worker can hold a lease.
func DefaultLeaseTTL(u *queue.Unit) time.Duration {
	return u.ScrapeOptions.EffectiveTimeout() + 15*time.Second
}

// planLimit resolves a team's max concurrency, honoring an env override.
func planLimit(plan Plan) int {
	envKey := "CRAWLFORGE_PLAN_LIMIT_" + string(plan)
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if n, ok := defaultPlanLimits[plan]; ok {
		return n
	}
	return defaultPlanLimits[PlanFree]
}

// Admit runs the spec §4.3 submission algorithm: evict expired leases, then
// either grant a lease and forward the unit to the Job Queue, or push it
// onto the team's overflow queue.
func (l *Limiter) Admit(ctx context.Context, team Team, u *queue.Unit) error {
	max := planLimit(team.Plan)
	activeKey := kvstore.TeamActiveKey(team.ID)
	overflowKey := kvstore.TeamOverflowKey(team.ID)

	if err := l.evictExpired(ctx, activeKey); err != nil {
		return err
	}

	backlog, err := l.store.LLen(ctx, overflowKey)
	if err != nil {
		return err
	}
	u.Priority = escalate(u.Priority, backlog, team.Plan)

	active, err := l.store.ZCard(ctx, activeKey)
	if err != nil {
		return err
	}
	if int(active) < max {
		return l.lease(ctx, team, u)
	}
	return l.pushOverflow(ctx, overflowKey, u)
}

// escalate applies the priority-escalation formula from spec §4.3.
func escalate(base int, backlog int64, plan Plan) int {
	modifier := planModifiers[plan]
	if modifier == 0 {
		modifier = 1.0
	}
	extra := math.Max(0, float64(backlog-backlogBucket)) * modifier
	return base + int(extra)
}

func (l *Limiter) lease(ctx context.Context, team Team, u *queue.Unit) error {
	ttl := l.leaseTTL(u)
	expiry := time.Now().Add(ttl)
	if err := l.store.ZAdd(ctx, kvstore.TeamActiveKey(team.ID), u.ID, float64(expiry.UnixNano())); err != nil {
		return err
	}
	return l.jobQueue.Submit(ctx, u)
}

func (l *Limiter) pushOverflow(ctx context.Context, overflowKey string, u *queue.Unit) error {
	enc, err := u.Encode()
	if err != nil {
		return err
	}
	return l.store.RPush(ctx, overflowKey, enc)
}

func (l *Limiter) evictExpired(ctx context.Context, activeKey string) error {
	now := float64(time.Now().UnixNano())
	expired, err := l.store.ZRangeByScore(ctx, activeKey, math.Inf(-1), now)
	if err != nil {
		return err
	}
	for _, id := range expired {
		if err := l.store.ZRem(ctx, activeKey, id); err != nil {
			return err
		}
	}
	return nil
}

// Release runs the spec §4.3 completion/failure/cancel algorithm: it frees
// the unit's lease, then admits as many overflow units as current capacity
// allows. Called by the Worker when a unit reaches a terminal state, and by
// the /scrape handler once its unit settles.
func (l *Limiter) Release(ctx context.Context, team Team, unitID string) error {
	activeKey := kvstore.TeamActiveKey(team.ID)
	if err := l.store.ZRem(ctx, activeKey, unitID); err != nil {
		return err
	}
	return l.DrainOverflow(ctx, team)
}

// DrainOverflow admits overflow units while the team has spare capacity.
// Called on lease expiry and on every completion, per spec §4.6.
func (l *Limiter) DrainOverflow(ctx context.Context, team Team) error {
	max := planLimit(team.Plan)
	activeKey := kvstore.TeamActiveKey(team.ID)
	overflowKey := kvstore.TeamOverflowKey(team.ID)

	if err := l.evictExpired(ctx, activeKey); err != nil {
		return err
	}

	for {
		active, err := l.store.ZCard(ctx, activeKey)
		if err != nil {
			return err
		}
		if int(active) >= max {
			return nil
		}
		raw, err := l.store.LPop(ctx, overflowKey)
		if err != nil {
			if err == kvstore.ErrNotFound {
				return nil
			}
			return err
		}
		u, err := queue.DecodeUnit(raw)
		if err != nil {
			continue
		}
		if err := l.lease(ctx, team, u); err != nil {
			return err
		}
	}
}

// AdmitRate returns (and lazily creates) a token-bucket limiter bounding
// how fast a given team may *submit* new units, independent of the
// concurrency lease above (spec §5: generators/streams throttled at the
// producer, not just the consumer).
func (l *Limiter) AdmitRate(teamID string, ratePerSec float64, burst int) *rate.Limiter {
	if rl, ok := l.admitRates[teamID]; ok {
		return rl
	}
	rl := rate.NewLimiter(rate.Limit(ratePerSec), burst)
	l.admitRates[teamID] = rl
	return rl
}
