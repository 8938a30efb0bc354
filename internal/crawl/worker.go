package crawl

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/internal/blob"
	"github.com/caiatech/crawlforge/internal/extract"
	"github.com/caiatech/crawlforge/internal/fetch"
	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/urlpolicy"
	"github.com/caiatech/crawlforge/internal/webhook"
	"github.com/caiatech/crawlforge/pkg/logging"
	"github.com/caiatech/crawlforge/pkg/types"
)

// reserveLease is the per-worker lease duration granted on Job Queue
// reservation, distinct from the Concurrency Limiter's per-team lease.
const reserveLease = 2 * time.Minute

// Worker runs the single-unit processing loop of spec §4.7, grounded on
// the teacher's CrawlWorker (internal/procurement/scraping/crawler.go),
// generalized from an in-process goroutine pulling off a Go channel to one
// polling the kvstore-backed Job Queue so any process can run workers.
type Worker struct {
	ID         string
	jobQueue   *queue.KVJobQueue
	scheduler  *Scheduler
	limiter    *limiter.Limiter
	dispatcher *webhook.Dispatcher
	fetcher    fetch.Fetcher
	extractor  extract.Extractor
	blob       blob.Store
	kv         kvstore.Store
	blocklist  *urlpolicy.Blocklist
}

func NewWorker(id string, jq *queue.KVJobQueue, sched *Scheduler, lim *limiter.Limiter, disp *webhook.Dispatcher, fetcher fetch.Fetcher, extractor extract.Extractor, blobStore blob.Store, kv kvstore.Store, blocklist *urlpolicy.Blocklist) *Worker {
	return &Worker{
		ID: id, jobQueue: jq, scheduler: sched, limiter: lim,
		dispatcher: disp, fetcher: fetcher, extractor: extractor, blob: blobStore, kv: kv, blocklist: blocklist,
	}
}

// Run polls the Job Queue until ctx is cancelled, processing one reserved
// unit per iteration. pollInterval bounds how often an empty queue is
// re-checked.
func (w *Worker) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				log.Error().Err(err).Str("worker_id", w.ID).Msg("worker: poll failed")
			}
		}
	}
}

// Poll reserves and processes at most one unit; returns nil when the queue
// was empty.
func (w *Worker) Poll(ctx context.Context) error {
	u, err := w.jobQueue.Reserve(ctx, w.ID, reserveLease)
	if err != nil {
		return err
	}
	if u == nil {
		return nil
	}
	w.process(ctx, u)
	return nil
}

func (w *Worker) process(ctx context.Context, u *queue.Unit) {
	wlog := logging.GetWorkerLogger(w.ID, u.ID)
	wlog.Debug().Str("url", u.URL).Msg("worker: processing unit")

	if u.CrawlID != "" {
		if cancelled := w.crawlCancelled(ctx, u.CrawlID); cancelled {
			_ = w.jobQueue.Cancel(ctx, u.ID)
			w.release(ctx, u)
			return
		}
	}

	page, ferr := w.fetcher.Fetch(ctx, u.URL, u.ScrapeOptions)
	if ferr != nil {
		w.handleFetchError(ctx, u, ferr)
		return
	}

	w.runExtraction(ctx, u, page)
	w.saveToBlob(ctx, u, page)

	if u.CrawlID != "" {
		w.discoverLinks(ctx, u, page)
		w.recordCrawlProgress(ctx, u, true)
	}

	if err := w.jobQueue.Complete(ctx, u.ID, queue.Result{Page: page}); err != nil {
		log.Error().Err(err).Str("unit_id", u.ID).Msg("worker: failed to mark unit complete")
	}
	w.release(ctx, u)

	eventType := webhook.EventBatchScrapePage
	if u.CrawlID != "" {
		eventType = webhook.EventCrawlPage
	}
	w.dispatcher.Dispatch(&webhook.Event{
		ID: u.ID, Type: eventType, CrawlID: u.CrawlID, UnitID: u.ID, TeamID: u.TeamID,
		CreatedAt: time.Now(), WebhookURL: u.Webhook,
		Payload: map[string]interface{}{"url": page.URL, "statusCode": page.StatusCode},
	})

	if u.CrawlID != "" {
		if err := w.scheduler.EvaluateCompletion(ctx, u.CrawlID); err != nil {
			log.Error().Err(err).Str("crawl_id", u.CrawlID).Msg("worker: completion evaluation failed")
		}
	}
}

// runExtraction fills page.JSON when a requested json format carries a
// schema and/or prompt (spec §3 scrape_options.formats, §6.1 Extractor).
// Extraction failures are non-fatal to the scrape: the page is still
// reported with whatever other formats succeeded.
func (w *Worker) runExtraction(ctx context.Context, u *queue.Unit, page *types.PageResult) {
	if w.extractor == nil {
		return
	}
	for _, f := range u.ScrapeOptions.Formats {
		if f.Type != types.FormatJSON {
			continue
		}
		prompt := f.Prompt
		if prompt == "" {
			prompt = u.ScrapeOptions.SystemPrompt
		}
		if len(f.Schema) == 0 && prompt == "" {
			continue
		}
		document := page.Markdown
		if document == "" {
			document = page.HTML
		}
		out, err := w.extractor.Extract(ctx, document, f.Schema, prompt)
		if err != nil {
			log.Warn().Err(err).Str("unit_id", u.ID).Msg("worker: json extraction failed")
			return
		}
		page.JSON = out
		return
	}
}

// saveToBlob persists the page's raw HTML when the unit's
// internal_options.save_to_blob flag is set (spec §3/§6.1). Best-effort: a
// blob write failure never fails the scrape itself.
func (w *Worker) saveToBlob(ctx context.Context, u *queue.Unit, page *types.PageResult) {
	if w.blob == nil || !u.InternalOptions.SaveToBlob {
		return
	}
	body := page.RawHTML
	if body == "" {
		body = page.HTML
	}
	if body == "" {
		return
	}
	if err := w.blob.Put(ctx, "unit:"+u.ID, []byte(body)); err != nil {
		log.Warn().Err(err).Str("unit_id", u.ID).Msg("worker: failed to save raw page to blob store")
	}
}

func (w *Worker) handleFetchError(ctx context.Context, u *queue.Unit, ferr error) {
	kind := apierr.KindInternal
	if classified, ok := apierr.As(ferr); ok {
		kind = classified.Kind
	}
	retriable := kind.Retriable()

	if err := w.jobQueue.Fail(ctx, u.ID, ferr.Error(), retriable); err != nil {
		log.Error().Err(err).Str("unit_id", u.ID).Msg("worker: failed to mark unit failed")
	}
	if retriable {
		// Fail marks the unit Failed instead of re-queueing it once its
		// attempts are exhausted; that is a terminal transition too.
		if state, err := w.jobQueue.State(ctx, u.ID); err == nil && state.Terminal() {
			retriable = false
		}
	}

	if !retriable {
		if u.CrawlID != "" {
			w.recordCrawlProgress(ctx, u, false)
		}
		w.release(ctx, u)

		eventType := webhook.EventBatchScrapePage
		if u.CrawlID != "" {
			eventType = webhook.EventCrawlPage
		}
		w.dispatcher.Dispatch(&webhook.Event{
			ID: u.ID, Type: eventType, CrawlID: u.CrawlID, UnitID: u.ID, TeamID: u.TeamID,
			CreatedAt: time.Now(), WebhookURL: u.Webhook,
			Payload: map[string]interface{}{"url": u.URL, "error": ferr.Error()},
		})

		if u.CrawlID != "" {
			if err := w.scheduler.EvaluateCompletion(ctx, u.CrawlID); err != nil {
				log.Error().Err(err).Str("crawl_id", u.CrawlID).Msg("worker: completion evaluation failed")
			}
		}
	}
	// retriable failures stay leased until Fail's re-queue; the limiter's
	// lease for this unit is released only once it reaches a terminal state.
}

func (w *Worker) recordCrawlProgress(ctx context.Context, u *queue.Unit, success bool) {
	urlset := NewURLSet(w.kv, u.CrawlID)
	if success {
		if _, err := urlset.IncrementDone(ctx); err != nil {
			log.Error().Err(err).Str("crawl_id", u.CrawlID).Msg("worker: failed to increment done counter")
		}
	} else {
		if _, err := urlset.IncrementError(ctx); err != nil {
			log.Error().Err(err).Str("crawl_id", u.CrawlID).Msg("worker: failed to increment error counter")
		}
	}
}

// release frees the unit's Concurrency Limiter lease and admits whatever
// overflow capacity that frees up. The team's plan does not affect which
// lease is removed, only how many replacement leases DrainOverflow grants.
func (w *Worker) release(ctx context.Context, u *queue.Unit) {
	if err := w.limiter.Release(ctx, limiter.Team{ID: u.TeamID, Plan: limiter.Plan(u.Plan)}, u.ID); err != nil {
		log.Error().Err(err).Str("unit_id", u.ID).Msg("worker: failed to release team lease")
	}
}

// discoverLinks runs the page-completion link-discovery sub-algorithm of
// spec §4.5: normalize, skip blocked/out-of-scope URLs, atomically
// lock_url, and submit a new ScrapeUnit for each newly admitted link.
func (w *Worker) discoverLinks(ctx context.Context, u *queue.Unit, page *types.PageResult) {
	rec, err := LoadRecord(ctx, w.kv, u.CrawlID)
	if err != nil {
		log.Error().Err(err).Str("crawl_id", u.CrawlID).Msg("worker: failed to load crawl record for discovery")
		return
	}
	urlset := NewURLSet(w.kv, u.CrawlID)

	parentDepth, err := urlset.DiscoveryDepth(ctx, u.URL)
	if err != nil {
		parentDepth = 0
	}

	for _, link := range page.Links {
		norm, err := urlpolicy.Normalize(link, rec.Options.IgnoreQueryParameters || rec.Options.DeduplicateSimilarURLs)
		if err != nil {
			continue
		}
		if w.blocklist != nil && w.blocklist.IsBlocked(norm) {
			continue
		}
		if urlpolicy.MatchesCrawlScope(norm, rec.OriginURL, rec.Options, parentDepth+1) != urlpolicy.ScopeAllow {
			continue
		}

		locked, err := urlset.LockURL(ctx, norm, rec.Options.Limit)
		if err != nil || !locked {
			continue
		}
		if err := urlset.SetDiscoveryDepth(ctx, norm, parentDepth+1); err != nil {
			log.Warn().Err(err).Str("url", norm).Msg("worker: failed to record discovery depth")
		}

		child := queue.NewUnit(norm, u.TeamID, u.Plan, basePriority, rec.ScrapeOptions)
		child.CrawlID = rec.ID
		child.Webhook = u.Webhook
		if slot, err := urlset.ReserveDispatchSlot(ctx, rec.Options.DelayMs); err != nil {
			log.Warn().Err(err).Str("url", norm).Msg("worker: failed to reserve politeness slot")
		} else {
			child.NotBefore = slot
		}
		if err := urlset.AddJobID(ctx, child.ID); err != nil {
			log.Error().Err(err).Str("url", norm).Msg("worker: failed to record discovered job id")
			continue
		}
		if err := w.limiter.Admit(ctx, limiter.Team{ID: u.TeamID, Plan: limiter.Plan(u.Plan)}, child); err != nil {
			log.Error().Err(err).Str("url", norm).Msg("worker: failed to admit discovered unit")
		}
	}
}

func (w *Worker) crawlCancelled(ctx context.Context, crawlID string) bool {
	rec, err := LoadRecord(ctx, w.kv, crawlID)
	if err != nil {
		return false
	}
	return rec.State == StateCancelled
}
