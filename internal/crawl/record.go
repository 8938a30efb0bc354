// Package crawl implements the Crawl State Machine, Scheduler/Dispatcher
// and Worker of spec §4.5-§4.7, grounded on the teacher's
// DistributedCrawler/CrawlJob/CrawlWorker (internal/procurement/scraping/
// crawler.go): the same job-lifecycle shape (submit, reserve, complete,
// discover-and-feed-back), generalized from an in-process channel-backed
// crawler to one whose state lives in kvstore so any process in a fleet can
// advance any crawl.
package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/pkg/types"
)

// State is the crawl-level lifecycle state (spec §3/§4.5).
type State string

const (
	StateScraping  State = "scraping"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

func (s State) Terminal() bool { return s != StateScraping }

// Record is the CrawlRecord of spec §3.
type Record struct {
	ID                string               `json:"id"`
	OriginURL         string               `json:"originUrl"`
	TeamID            string               `json:"teamId"`
	Options           types.CrawlerOptions `json:"options"`
	ScrapeOptions     types.ScrapeOptions  `json:"scrapeOptions"`
	RobotsTxt         string               `json:"robotsTxt,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	StartedAt         time.Time            `json:"startedAt,omitempty"`
	FinishedAt        time.Time            `json:"finishedAt,omitempty"`
	State             State                `json:"state"`
	KickoffFinished   bool                 `json:"kickoffFinished"`
	MaxConcurrency    int                  `json:"maxConcurrency,omitempty"`
	ZeroDataRetention bool                 `json:"zeroDataRetention,omitempty"`
	Webhook           string               `json:"webhook,omitempty"`
}

// NewRecord builds a fresh CrawlRecord in the Scraping state.
func NewRecord(originURL, teamID string, opts types.CrawlerOptions, scrapeOpts types.ScrapeOptions) *Record {
	return &Record{
		ID:            uuid.NewString(),
		OriginURL:     originURL,
		TeamID:        teamID,
		Options:       opts,
		ScrapeOptions: scrapeOpts,
		CreatedAt:     time.Now(),
		State:         StateScraping,
	}
}

const recordTTL = 7 * 24 * time.Hour

// Store persists the crawl record. CrawlRecords are never deleted eagerly;
// they expire from the KV store on their own TTL (spec §3 lifecycle).
func (r *Record) Store(ctx context.Context, kv kvstore.Store) error {
	enc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return kv.Set(ctx, kvstore.CrawlKey(r.ID), enc, recordTTL)
}

// LoadRecord reads a CrawlRecord by id.
func LoadRecord(ctx context.Context, kv kvstore.Store, id string) (*Record, error) {
	raw, err := kv.Get(ctx, kvstore.CrawlKey(id))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("crawl: decoding record %s: %w", id, err)
	}
	return &r, nil
}

// URLSet holds the CrawlURLSet side tables of spec §3, resolved through
// kvstore rather than held as an in-memory struct since every field must
// be visible to every worker in the fleet.
type URLSet struct {
	kv      kvstore.Store
	crawlID string
}

func NewURLSet(kv kvstore.Store, crawlID string) *URLSet {
	return &URLSet{kv: kv, crawlID: crawlID}
}

// LockURL atomically adds url to locked_urls, returning whether this call
// performed the insertion (idempotent admission, spec §4.5's lock_url).
// limit<=0 means unbounded.
func (s *URLSet) LockURL(ctx context.Context, url string, limit int) (bool, error) {
	if limit > 0 {
		count, err := s.kv.SCard(ctx, kvstore.CrawlVisitedKey(s.crawlID))
		if err != nil {
			return false, err
		}
		if count >= int64(limit) {
			return false, nil
		}
	}
	return s.kv.SAdd(ctx, kvstore.CrawlVisitedKey(s.crawlID), url)
}

// LockedCount returns |locked_urls|.
func (s *URLSet) LockedCount(ctx context.Context) (int64, error) {
	return s.kv.SCard(ctx, kvstore.CrawlVisitedKey(s.crawlID))
}

// AddJobID appends a scrape-unit id to the crawl's ordered job list.
func (s *URLSet) AddJobID(ctx context.Context, unitID string) error {
	return s.kv.RPush(ctx, kvstore.CrawlJobsKey(s.crawlID), []byte(unitID))
}

// JobIDs returns every scrape-unit id ever submitted for this crawl.
func (s *URLSet) JobIDs(ctx context.Context) ([]string, error) {
	raw, err := s.kv.LRange(ctx, kvstore.CrawlJobsKey(s.crawlID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, b := range raw {
		out[i] = string(b)
	}
	return out, nil
}

// SetDiscoveryDepth records the discovery-depth hop count for url.
func (s *URLSet) SetDiscoveryDepth(ctx context.Context, url string, depth int) error {
	return s.kv.Set(ctx, kvstore.CrawlDiscoveryDepthKey(s.crawlID)+":"+url, []byte(fmt.Sprint(depth)), recordTTL)
}

// DiscoveryDepth reads back a url's discovery depth, defaulting to 0 (the
// seed) if never recorded.
func (s *URLSet) DiscoveryDepth(ctx context.Context, url string) (int, error) {
	raw, err := s.kv.Get(ctx, kvstore.CrawlDiscoveryDepthKey(s.crawlID)+":"+url)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var d int
	fmt.Sscanf(string(raw), "%d", &d)
	return d, nil
}

// dispatchPaceKey tracks the next time a unit may leave the crawl's
// politeness delay (options.delay_ms), spec §3.
func dispatchPaceKey(crawlID string) string { return "crawl:" + crawlID + ":pace" }

// ReserveDispatchSlot returns the earliest time the next unit of this
// crawl may be reserved, advancing the crawl's pacing clock by delayMs.
// Implemented as a plain Get/Set rather than a kvstore transaction: per
// spec §4.1 every multi-key (here, read-then-write of one key) update is a
// compensating sequence whose partial results are tolerable — a lost race
// only shortens the delay for one unit, it never violates a counted
// invariant.
func (s *URLSet) ReserveDispatchSlot(ctx context.Context, delayMs int) (time.Time, error) {
	if delayMs <= 0 {
		return time.Time{}, nil
	}
	now := time.Now()
	key := dispatchPaceKey(s.crawlID)
	next := now
	if raw, err := s.kv.Get(ctx, key); err == nil {
		if prev, perr := time.Parse(time.RFC3339Nano, string(raw)); perr == nil && prev.After(next) {
			next = prev
		}
	} else if err != kvstore.ErrNotFound {
		return time.Time{}, err
	}
	slot := next
	following := slot.Add(time.Duration(delayMs) * time.Millisecond)
	if err := s.kv.Set(ctx, key, []byte(following.Format(time.RFC3339Nano)), recordTTL); err != nil {
		return time.Time{}, err
	}
	return slot, nil
}

// IncrementDone bumps the done_count counter.
func (s *URLSet) IncrementDone(ctx context.Context) (int64, error) {
	return s.kv.Incr(ctx, kvstore.CrawlCounterKey(s.crawlID, "done"), 1)
}

// IncrementError bumps the error_count counter.
func (s *URLSet) IncrementError(ctx context.Context) (int64, error) {
	return s.kv.Incr(ctx, kvstore.CrawlCounterKey(s.crawlID, "errors"), 1)
}

// IncrementCredits bumps the credit_count counter by n.
func (s *URLSet) IncrementCredits(ctx context.Context, n int64) (int64, error) {
	return s.kv.Incr(ctx, kvstore.CrawlCounterKey(s.crawlID, "credits"), n)
}

// Counters reads back done/error/credit counts.
func (s *URLSet) Counters(ctx context.Context) (done, errs, credits int64, err error) {
	if done, err = s.readCounter(ctx, "done"); err != nil {
		return
	}
	if errs, err = s.readCounter(ctx, "errors"); err != nil {
		return
	}
	credits, err = s.readCounter(ctx, "credits")
	return
}

func (s *URLSet) readCounter(ctx context.Context, name string) (int64, error) {
	raw, err := s.kv.Get(ctx, kvstore.CrawlCounterKey(s.crawlID, name))
	if err != nil {
		if err == kvstore.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var v int64
	fmt.Sscanf(string(raw), "%d", &v)
	return v, nil
}
