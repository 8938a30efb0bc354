package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/internal/auth"
	"github.com/caiatech/crawlforge/internal/billing"
	"github.com/caiatech/crawlforge/internal/crawl"
	"github.com/caiatech/crawlforge/internal/idempotency"
	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/search"
	"github.com/caiatech/crawlforge/internal/webhook"
	"github.com/caiatech/crawlforge/pkg/types"
)

// pageSize bounds a single status-page response, matching spec §9's
// monotone-cursor requirement: the cursor is the insertion rank into
// job_ids, so a client paginating a live crawl never sees the same page
// twice even as new pages arrive underneath it.
const pageSize = 50

// Handlers implements the Public API Surface of spec §4.10 over the
// crawl-orchestration core, grounded on the teacher's single-Handlers-
// struct-plus-fiber.Ctx-methods shape.
type Handlers struct {
	kv         kvstore.Store
	jobQueue   *queue.KVJobQueue
	limiter    *limiter.Limiter
	scheduler  *crawl.Scheduler
	idem       *idempotency.Gate
	dispatcher *webhook.Dispatcher
	auth       auth.Provider
	billing    billing.Provider
	search     search.Provider
}

// NewHandlers wires every core component the API surface depends on.
func NewHandlers(kv kvstore.Store, jq *queue.KVJobQueue, lim *limiter.Limiter, sched *crawl.Scheduler, idem *idempotency.Gate, disp *webhook.Dispatcher, authP auth.Provider, billingP billing.Provider, searchP search.Provider) *Handlers {
	return &Handlers{
		kv: kv, jobQueue: jq, limiter: lim, scheduler: sched,
		idem: idem, dispatcher: disp, auth: authP, billing: billingP, search: searchP,
	}
}

// Health reports liveness; it never touches the KV store so it stays cheap
// enough for a tight orchestrator probe interval.
func (h *Handlers) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "service": "crawlforge"})
}

// Ready reports readiness by round-tripping the KV store, the dependency
// every other component needs to make progress.
func (h *Handlers) Ready(c *fiber.Ctx) error {
	if err := h.kv.Health(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "error": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// asHTTPRequest copies the headers off a fasthttp request into a bare
// net/http.Request so the Auth boundary, defined against the standard
// library, never needs to know Fiber runs on fasthttp.
func asHTTPRequest(c *fiber.Ctx) *http.Request {
	r := &http.Request{Header: make(http.Header)}
	c.Request().Header.VisitAll(func(k, v []byte) {
		r.Header.Add(string(k), string(v))
	})
	return r
}

func (h *Handlers) identify(c *fiber.Ctx) (auth.Identity, error) {
	id, err := h.auth.Authenticate(c.Context(), asHTTPRequest(c))
	if err != nil {
		return auth.Identity{}, apierr.New(apierr.KindAuth, err)
	}
	return id, nil
}

func (h *Handlers) checkIdempotency(c *fiber.Ctx, teamID string) error {
	key := c.Get("x-idempotency-key")
	if key == "" {
		return nil
	}
	return h.idem.Check(c.Context(), teamID, key)
}

// writeError maps a classified apierr.Error (or any other error) to its
// §6.2 HTTP status and a uniform JSON body.
func writeError(c *fiber.Ctx, err error) error {
	if classified, ok := apierr.As(err); ok {
		return c.Status(classified.Kind.HTTPStatus()).JSON(fiber.Map{"error": classified.Error()})
	}
	if err == kvstore.ErrNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	log.Error().Err(err).Msg("api: unclassified internal error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// Scrape handles POST /scrape: a single synchronous fetch outside of any
// crawl. The unit is admitted through the same Concurrency Limiter and Job
// Queue as crawl units so a burst of direct scrapes is still subject to
// per-team fairness; the handler blocks polling for the unit's terminal
// state up to its declared timeout, echoing the unit id on a 408 (spec
// §7 "User-visible failure").
func (h *Handlers) Scrape(c *fiber.Ctx) error {
	ident, err := h.identify(c)
	if err != nil {
		return writeError(c, err)
	}
	var req ScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apierr.New(apierr.KindValidation, err))
	}
	if len(req.ScrapeOptions.Formats) == 0 {
		req.ScrapeOptions.Formats = types.DefaultScrapeOptions().Formats
	}
	if err := req.validateAll(); err != nil {
		return writeError(c, err)
	}
	if err := h.checkIdempotency(c, ident.TeamID); err != nil {
		return writeError(c, err)
	}

	ok, _, err := h.billing.CheckCredits(c.Context(), ident.TeamID, 1)
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, apierr.New(apierr.KindInsufficientCredits, nil))
	}

	team := limiter.Team{ID: ident.TeamID, Plan: limiter.Plan(ident.Plan)}
	u := queue.NewUnit(req.URL, team.ID, string(team.Plan), 0, req.ScrapeOptions)
	if err := h.limiter.Admit(c.Context(), team, u); err != nil {
		return writeError(c, err)
	}

	page, werr := h.awaitUnit(c.Context(), u.ID, req.ScrapeOptions.EffectiveTimeout())
	_ = h.limiter.Release(c.Context(), team, u.ID)
	if werr != nil {
		return writeError(c, werr)
	}
	_ = h.billing.Bill(c.Context(), ident.TeamID, 1)
	return c.JSON(fiber.Map{"success": true, "data": page})
}

// awaitUnit polls the Job Queue for a unit's terminal state. The Job Queue
// itself is the shared, fleet-wide source of truth (spec §5: no in-process
// authoritative state), so a synchronous handler on any process observes
// a unit completed by any worker in the fleet.
func (h *Handlers) awaitUnit(ctx context.Context, unitID string, timeout time.Duration) (*types.PageResult, error) {
	deadline := time.Now().Add(timeout + 2*time.Second)
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := h.jobQueue.State(ctx, unitID)
		if err != nil && err != kvstore.ErrNotFound {
			return nil, err
		}
		switch state {
		case queue.StateCompleted:
			return h.jobQueue.GetResult(ctx, unitID)
		case queue.StateFailed:
			u, _ := h.jobQueue.Get(ctx, unitID)
			reason := "scrape failed"
			if u != nil {
				reason = u.LastError
			}
			return nil, apierr.New(apierr.KindPermanentFetch, errString(reason))
		case queue.StateCancelled:
			return nil, apierr.New(apierr.KindCancelled, errString("scrape cancelled"))
		}
		if time.Now().After(deadline) {
			return nil, apierr.New(apierr.KindTimeout, errString("request timed out, unit "+unitID))
		}
		select {
		case <-ctx.Done():
			return nil, apierr.New(apierr.KindTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

// Crawl handles POST /crawl.
func (h *Handlers) Crawl(c *fiber.Ctx) error {
	ident, err := h.identify(c)
	if err != nil {
		return writeError(c, err)
	}
	var req CrawlRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apierr.New(apierr.KindValidation, err))
	}
	if req.CrawlerOptions.Limit == 0 && req.CrawlerOptions.MaxDepth == 0 &&
		req.CrawlerOptions.MaxDiscoveryDepth == 0 && len(req.CrawlerOptions.IncludePaths) == 0 &&
		len(req.CrawlerOptions.ExcludePaths) == 0 {
		// crawlerOptions was omitted entirely: BodyParser never reached
		// CrawlerOptions.UnmarshalJSON, so it's still the Go zero value
		// rather than DefaultCrawlerOptions. An explicit all-zero
		// crawlerOptions object is indistinguishable from this and falls
		// back to the same defaults.
		req.CrawlerOptions = types.DefaultCrawlerOptions()
	}
	if err := req.validateAll(); err != nil {
		return writeError(c, err)
	}
	if err := h.checkIdempotency(c, ident.TeamID); err != nil {
		return writeError(c, err)
	}

	ok, remaining, err := h.billing.CheckCredits(c.Context(), ident.TeamID, int64(req.CrawlerOptions.Limit))
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		if remaining <= 0 {
			return writeError(c, apierr.New(apierr.KindInsufficientCredits, nil))
		}
		req.CrawlerOptions.Limit = int(remaining) // clamp, spec §6.1
	}

	team := limiter.Team{ID: ident.TeamID, Plan: limiter.Plan(ident.Plan)}
	rec, err := h.scheduler.CreateCrawl(c.Context(), team, req.URL, req.CrawlerOptions, req.ScrapeOptions, req.Webhook)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": rec.ID, "url": rec.OriginURL})
}

// crawlStatusResponse is the §4.10 GET /crawl/{id} status snapshot.
type crawlStatusResponse struct {
	ID          string             `json:"id"`
	URL         string             `json:"url"`
	State       crawl.State        `json:"status"`
	Total       int                `json:"total"`
	Completed   int64              `json:"completed"`
	Failed      int64              `json:"failed"`
	CreditsUsed int64              `json:"creditsUsed"`
	Data        []*types.PageResult `json:"data,omitempty"`
	PartialData []*types.PageResult `json:"partialData,omitempty"`
	Next        string             `json:"next,omitempty"`
}

// CrawlStatus handles GET /crawl/{id}.
func (h *Handlers) CrawlStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := crawl.LoadRecord(c.Context(), h.kv, id)
	if err != nil {
		return writeError(c, err)
	}
	urlset := crawl.NewURLSet(h.kv, id)
	done, errs, credits, err := urlset.Counters(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	jobIDs, err := urlset.JobIDs(c.Context())
	if err != nil {
		return writeError(c, err)
	}

	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		if n, perr := parseCursor(raw); perr == nil {
			cursor = n
		}
	}
	window, next := h.pageWindow(c.Context(), jobIDs, cursor)

	resp := crawlStatusResponse{
		ID: rec.ID, URL: rec.OriginURL, State: rec.State,
		Total: len(jobIDs), Completed: done, Failed: errs, CreditsUsed: credits,
		Next: next,
	}
	switch rec.State {
	case crawl.StateCompleted:
		resp.Data = window
	default:
		resp.PartialData = window
	}
	return c.JSON(resp)
}

func (h *Handlers) pageWindow(ctx context.Context, jobIDs []string, cursor int) ([]*types.PageResult, string) {
	if cursor >= len(jobIDs) {
		return nil, ""
	}
	end := cursor + pageSize
	if end > len(jobIDs) {
		end = len(jobIDs)
	}
	var out []*types.PageResult
	for _, id := range jobIDs[cursor:end] {
		page, err := h.jobQueue.GetResult(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, page)
	}
	next := ""
	if end < len(jobIDs) {
		next = formatCursor(end)
	}
	return out, next
}

// crawlErrorEntry is one row of GET /crawl/{id}/errors.
type crawlErrorEntry struct {
	UnitID string `json:"id"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// CrawlErrors handles GET /crawl/{id}/errors.
func (h *Handlers) CrawlErrors(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := crawl.LoadRecord(c.Context(), h.kv, id); err != nil {
		return writeError(c, err)
	}
	urlset := crawl.NewURLSet(h.kv, id)
	jobIDs, err := urlset.JobIDs(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	var out []crawlErrorEntry
	for _, jid := range jobIDs {
		u, err := h.jobQueue.Get(c.Context(), jid)
		if err != nil {
			continue
		}
		if u.State == queue.StateFailed {
			out = append(out, crawlErrorEntry{UnitID: u.ID, URL: u.URL, Error: u.LastError})
		}
	}
	return c.JSON(fiber.Map{"errors": out})
}

// CancelCrawl handles DELETE /crawl/{id}.
func (h *Handlers) CancelCrawl(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.scheduler.Cancel(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelled"})
}

// OngoingCrawls handles GET /crawl/ongoing.
func (h *Handlers) OngoingCrawls(c *fiber.Ctx) error {
	ident, err := h.identify(c)
	if err != nil {
		return writeError(c, err)
	}
	recs, err := h.scheduler.Ongoing(c.Context(), ident.TeamID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]fiber.Map, 0, len(recs))
	for _, r := range recs {
		out = append(out, fiber.Map{"id": r.ID, "url": r.OriginURL, "status": r.State})
	}
	return c.JSON(fiber.Map{"crawls": out})
}

// BatchScrape handles POST /batch/scrape: like crawl but with no link
// discovery (spec §4.10).
func (h *Handlers) BatchScrape(c *fiber.Ctx) error {
	ident, err := h.identify(c)
	if err != nil {
		return writeError(c, err)
	}
	var req BatchScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apierr.New(apierr.KindValidation, err))
	}
	if err := req.validateAll(); err != nil {
		return writeError(c, err)
	}
	if err := h.checkIdempotency(c, ident.TeamID); err != nil {
		return writeError(c, err)
	}
	ok, _, err := h.billing.CheckCredits(c.Context(), ident.TeamID, int64(len(req.URLs)))
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return writeError(c, apierr.New(apierr.KindInsufficientCredits, nil))
	}

	team := limiter.Team{ID: ident.TeamID, Plan: limiter.Plan(ident.Plan)}
	b, err := h.scheduler.CreateBatch(c.Context(), team, req.URLs, req.ScrapeOptions, req.Webhook)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": b.ID})
}

// BatchStatus handles GET /batch/scrape/{id}, the batch analogue of
// CrawlStatus (not named explicitly in spec §4.10 but implied by its
// "like crawl" framing — a client needs somewhere to poll a batch).
func (h *Handlers) BatchStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	b, err := crawl.LoadBatch(c.Context(), h.kv, id)
	if err != nil {
		return writeError(c, err)
	}
	jobIDs, err := crawl.BatchJobIDs(c.Context(), h.kv, id)
	if err != nil {
		return writeError(c, err)
	}
	var completed int
	var data []*types.PageResult
	for _, jid := range jobIDs {
		state, err := h.jobQueue.State(c.Context(), jid)
		if err != nil {
			continue
		}
		if state.Terminal() {
			completed++
		}
		if page, err := h.jobQueue.GetResult(c.Context(), jid); err == nil {
			data = append(data, page)
		}
	}
	status := "scraping"
	if completed == len(jobIDs) {
		status = "completed"
	}
	return c.JSON(fiber.Map{"id": b.ID, "status": status, "total": len(jobIDs), "completed": completed, "data": data})
}

// Search handles POST /search: delegates to the external Search Provider
// and optionally fans out a scrape unit per result (spec §4.10).
func (h *Handlers) Search(c *fiber.Ctx) error {
	ident, err := h.identify(c)
	if err != nil {
		return writeError(c, err)
	}
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, apierr.New(apierr.KindValidation, err))
	}
	if err := req.validateAll(); err != nil {
		return writeError(c, err)
	}

	results, err := h.search.Search(c.Context(), req.Query, search.Options{Limit: req.Limit, Country: req.Country})
	if err != nil {
		// spec §6.1: search errors yield an empty list, never an error status.
		log.Warn().Err(err).Str("query", req.Query).Msg("api: search provider failed")
		results = nil
	}

	if !req.ScrapeResults || len(results) == 0 {
		return c.JSON(fiber.Map{"success": true, "data": results})
	}

	team := limiter.Team{ID: ident.TeamID, Plan: limiter.Plan(ident.Plan)}
	urls := make([]string, 0, len(results))
	for _, r := range results {
		urls = append(urls, r.URL)
	}
	b, err := h.scheduler.CreateBatch(c.Context(), team, urls, req.ScrapeOptions, "")
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "results": results, "batchId": b.ID})
}

func parseCursor(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func formatCursor(n int) string {
	return strconv.Itoa(n)
}
