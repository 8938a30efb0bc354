package crawl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/urlpolicy"
	"github.com/caiatech/crawlforge/internal/webhook"
	"github.com/caiatech/crawlforge/pkg/logging"
	"github.com/caiatech/crawlforge/pkg/types"
)

// Scheduler bridges the Concurrency Limiter and Job Queue (spec §4.6):
// admitting new crawls, feeding discovered links back through scope
// checks, and evaluating crawl completion on every unit's terminal
// transition. Grounded on the teacher's DistributedCrawler, generalized
// from in-process dispatch to kvstore-mediated dispatch.
type Scheduler struct {
	kv         kvstore.Store
	jobQueue   *queue.KVJobQueue
	limiter    *limiter.Limiter
	dispatcher *webhook.Dispatcher
	httpClient *http.Client
	userAgent  string
}

func NewScheduler(kv kvstore.Store, jq *queue.KVJobQueue, lim *limiter.Limiter, disp *webhook.Dispatcher, userAgent string) *Scheduler {
	return &Scheduler{
		kv:         kv,
		jobQueue:   jq,
		limiter:    lim,
		dispatcher: disp,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  userAgent,
	}
}

// CreateCrawl runs the §4.5 Create transition: writes the CrawlRecord,
// locks and submits the seed, fetches robots.txt and sitemap
// (non-fatal), and submits any sitemap URLs that pass scope checks.
func (s *Scheduler) CreateCrawl(ctx context.Context, team limiter.Team, originURL string, opts types.CrawlerOptions, scrapeOpts types.ScrapeOptions, webhookURL string) (*Record, error) {
	slog := logging.GetSchedulerLogger("", "kickoff")

	seed, err := urlpolicy.Normalize(originURL, opts.IgnoreQueryParameters || opts.DeduplicateSimilarURLs)
	if err != nil {
		return nil, fmt.Errorf("crawl: invalid seed url: %w", err)
	}

	rec := NewRecord(seed, team.ID, opts, scrapeOpts)
	rec.Webhook = webhookURL
	slog = logging.GetSchedulerLogger(rec.ID, "kickoff")
	if err := rec.Store(ctx, s.kv); err != nil {
		rec.State = StateFailed
		_ = rec.Store(ctx, s.kv)
		return nil, fmt.Errorf("crawl: persisting record: %w", err)
	}
	if _, err := s.kv.SAdd(ctx, kvstore.TeamOngoingKey(team.ID), rec.ID); err != nil {
		slog.Warn().Err(err).Msg("crawl: failed to index ongoing crawl")
	}

	urlset := NewURLSet(s.kv, rec.ID)
	if _, err := urlset.LockURL(ctx, seed, opts.Limit); err != nil {
		rec.State = StateFailed
		_ = rec.Store(ctx, s.kv)
		return nil, fmt.Errorf("crawl: locking seed url: %w", err)
	}

	s.dispatcher.Dispatch(&webhook.Event{
		ID: rec.ID, Type: webhook.EventCrawlStarted, CrawlID: rec.ID, TeamID: team.ID,
		CreatedAt: time.Now(), WebhookURL: webhookURL,
	})

	if err := s.submitUnit(ctx, team, rec, seed, webhookURL); err != nil {
		return nil, fmt.Errorf("crawl: submitting seed unit: %w", err)
	}

	robots := urlpolicy.FetchRobots(ctx, s.httpClient, seed, s.userAgent)

	if !opts.IgnoreSitemap {
		sitemapURLs := urlpolicy.FetchSitemap(ctx, s.httpClient, seed)
		for _, u := range sitemapURLs {
			norm, err := urlpolicy.Normalize(u, opts.IgnoreQueryParameters || opts.DeduplicateSimilarURLs)
			if err != nil {
				continue
			}
			if urlpolicy.MatchesCrawlScope(norm, seed, opts, 1) != urlpolicy.ScopeAllow {
				continue
			}
			if !robots.Allows(norm, opts.IgnoreRobotsTxt) {
				continue
			}
			locked, err := urlset.LockURL(ctx, norm, opts.Limit)
			if err != nil || !locked {
				continue
			}
			_ = urlset.SetDiscoveryDepth(ctx, norm, 1)
			if err := s.submitUnit(ctx, team, rec, norm, webhookURL); err != nil {
				slog.Warn().Err(err).Str("url", norm).Msg("crawl: failed to submit sitemap unit")
			}
		}
	}

	rec.KickoffFinished = true
	rec.StartedAt = time.Now()
	if err := rec.Store(ctx, s.kv); err != nil {
		return nil, fmt.Errorf("crawl: finalizing kickoff: %w", err)
	}
	return rec, nil
}

// basePriority is the default ScrapeUnit priority before the Concurrency
// Limiter's backlog-based escalation (spec §4.3) adjusts it.
const basePriority = 0

func (s *Scheduler) submitUnit(ctx context.Context, team limiter.Team, rec *Record, url, webhookURL string) error {
	u := queue.NewUnit(url, team.ID, string(team.Plan), basePriority, rec.ScrapeOptions)
	u.CrawlID = rec.ID
	u.Webhook = webhookURL

	urlset := NewURLSet(s.kv, rec.ID)
	if slot, err := urlset.ReserveDispatchSlot(ctx, rec.Options.DelayMs); err != nil {
		log.Warn().Err(err).Str("crawl_id", rec.ID).Msg("crawl: failed to reserve politeness slot")
	} else {
		u.NotBefore = slot
	}
	if err := urlset.AddJobID(ctx, u.ID); err != nil {
		return err
	}
	return s.limiter.Admit(ctx, team, u)
}

// Cancel runs the §4.5 Cancel transition.
func (s *Scheduler) Cancel(ctx context.Context, crawlID string) error {
	rec, err := LoadRecord(ctx, s.kv, crawlID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return nil
	}
	rec.State = StateCancelled
	rec.FinishedAt = time.Now()
	if err := rec.Store(ctx, s.kv); err != nil {
		return err
	}
	_ = s.kv.SRem(ctx, kvstore.TeamOngoingKey(rec.TeamID), rec.ID)
	return s.kv.Publish(ctx, kvstore.CrawlCancelChannel(crawlID), []byte("cancelled"))
}

// EvaluateCompletion runs the §4.5 completion evaluator: if kickoff is
// finished and every job id has reached a terminal state, the crawl moves
// to Completed and emits crawl.completed.
func (s *Scheduler) EvaluateCompletion(ctx context.Context, crawlID string) error {
	rec, err := LoadRecord(ctx, s.kv, crawlID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return nil
	}
	if !rec.KickoffFinished {
		return nil
	}

	urlset := NewURLSet(s.kv, crawlID)
	jobIDs, err := urlset.JobIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range jobIDs {
		state, err := s.jobQueue.State(ctx, id)
		if err != nil {
			if err == kvstore.ErrNotFound {
				continue // already pruned after being persisted
			}
			return err
		}
		if !state.Terminal() {
			return nil
		}
	}

	rec.State = StateCompleted
	rec.FinishedAt = time.Now()
	if err := rec.Store(ctx, s.kv); err != nil {
		return err
	}
	_ = s.kv.SRem(ctx, kvstore.TeamOngoingKey(rec.TeamID), rec.ID)
	s.dispatcher.Dispatch(&webhook.Event{
		ID: crawlID, Type: webhook.EventCrawlCompleted, CrawlID: crawlID, TeamID: rec.TeamID,
		CreatedAt: time.Now(), WebhookURL: rec.Webhook,
	})
	return nil
}

// FailKickoff moves a crawl directly to Failed, for catastrophic kickoff
// errors (spec §7: storage failure during CrawlRecord write, etc). Partial
// data is preserved.
func (s *Scheduler) FailKickoff(ctx context.Context, crawlID string, reason error) error {
	rec, err := LoadRecord(ctx, s.kv, crawlID)
	if err != nil {
		return err
	}
	rec.State = StateFailed
	rec.FinishedAt = time.Now()
	if err := rec.Store(ctx, s.kv); err != nil {
		return err
	}
	_ = s.kv.SRem(ctx, kvstore.TeamOngoingKey(rec.TeamID), rec.ID)
	s.dispatcher.Dispatch(&webhook.Event{
		ID: crawlID, Type: webhook.EventCrawlFailed, CrawlID: crawlID, TeamID: rec.TeamID,
		CreatedAt: time.Now(), WebhookURL: rec.Webhook,
		Payload: map[string]interface{}{"error": reason.Error()},
	})
	return nil
}

// Ongoing returns every Scraping CrawlRecord belonging to teamID, used by
// GET /crawl/ongoing.
func (s *Scheduler) Ongoing(ctx context.Context, teamID string) ([]*Record, error) {
	ids, err := s.kv.SMembers(ctx, kvstore.TeamOngoingKey(teamID))
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := LoadRecord(ctx, s.kv, id)
		if err != nil {
			if err == kvstore.ErrNotFound {
				continue
			}
			return nil, err
		}
		if rec.State == StateScraping {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// SweepExpiredLeases runs the cron-driven housekeeping of spec §4.6: drain
// each team's overflow queue as active leases expire. teams is supplied by
// the caller; cmd/server passes every team that has a configured API key.
func (s *Scheduler) SweepExpiredLeases(ctx context.Context, teams []limiter.Team) {
	for _, team := range teams {
		if err := s.limiter.DrainOverflow(ctx, team); err != nil {
			log.Warn().Err(err).Str("team_id", team.ID).Msg("crawl: sweep failed to drain overflow")
		}
	}
}
