// Package main is the crawlforge server entry point: it wires the kvstore
// backend, Job Queue, Concurrency Limiter, Scheduler, Worker pool and
// Webhook Dispatcher together behind the Public API Surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/caiatech/crawlforge/internal/api"
	"github.com/caiatech/crawlforge/internal/auth"
	"github.com/caiatech/crawlforge/internal/billing"
	"github.com/caiatech/crawlforge/internal/blob"
	"github.com/caiatech/crawlforge/internal/config"
	"github.com/caiatech/crawlforge/internal/crawl"
	"github.com/caiatech/crawlforge/internal/extract"
	"github.com/caiatech/crawlforge/internal/fetch"
	"github.com/caiatech/crawlforge/internal/idempotency"
	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/search"
	"github.com/caiatech/crawlforge/internal/urlpolicy"
	"github.com/caiatech/crawlforge/internal/webhook"
	"github.com/caiatech/crawlforge/pkg/logging"
)

func main() {
	if err := logging.SetupLogger(logging.DefaultLogConfig()); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open kvstore backend")
	}
	defer store.Close()

	jobQueue := queue.NewKVJobQueue(store)
	lim := limiter.New(store, jobQueue, nil)
	dispatcher := webhook.NewDispatcher(1024, 8)
	defer dispatcher.Close()
	scheduler := crawl.NewScheduler(store, jobQueue, lim, dispatcher, cfg.UserAgent)
	idemGate := idempotency.New(store, cfg.IdempotencyTTL)
	blocklist := urlpolicy.NewBlocklist(cfg.BlocklistDomains, cfg.AllowKeywords)

	httpFetcher := fetch.NewHTTPFetcher(cfg.UserAgent)
	renderFetcher := fetch.NewRenderFetcher()
	fetcher := fetch.NewComposite(httpFetcher, renderFetcher)

	var extractor extract.Extractor
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		extractor = extract.NewAnthropicExtractor(anthropic.Model(cfg.AnthropicModel))
	}

	blobStore := blob.NewInMemory()
	identities := parseAPIKeys(cfg.APIKeys)
	authProvider := auth.NewAPIKey(identities)

	var billingProvider billing.Provider = billing.Unlimited{}
	var searchProvider search.Provider = search.Null{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < cfg.WorkerCount; i++ {
		w := crawl.NewWorker(
			"worker-"+strconv.Itoa(i),
			jobQueue, scheduler, lim, dispatcher,
			fetcher, extractor, blobStore, store, blocklist,
		)
		go w.Run(ctx, cfg.PollInterval)
	}
	log.Info().Int("workers", cfg.WorkerCount).Msg("crawlforge: worker pool started")

	teams := teamsFromIdentities(identities)
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 1m", func() {
		scheduler.SweepExpiredLeases(ctx, teams)
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule lease sweeper")
	}
	sweeper.Start()
	defer sweeper.Stop()

	handlers := api.NewHandlers(store, jobQueue, lim, scheduler, idemGate, dispatcher, authProvider, billingProvider, searchProvider)

	app := fiber.New(fiber.Config{
		AppName:               "crawlforge",
		DisableStartupMessage: false,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	api.RegisterRoutes(app, handlers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("crawlforge: shutting down")
		cancel()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("crawlforge: server shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("crawlforge: starting server")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("crawlforge: server failed")
	}
}

func openStore(cfg config.Config) (kvstore.Store, error) {
	if cfg.KVBackend == "badger" {
		return kvstore.OpenBadger(cfg.DataDir)
	}
	return kvstore.NewMemory(), nil
}

// parseAPIKeys decodes the config's "token -> teamID:plan" map into the
// Identity map auth.APIKey expects.
func parseAPIKeys(raw map[string]string) map[string]auth.Identity {
	out := make(map[string]auth.Identity, len(raw))
	for token, combined := range raw {
		teamID, plan, ok := strings.Cut(combined, ":")
		if !ok {
			teamID, plan = combined, "free"
		}
		out[token] = auth.Identity{TeamID: teamID, Plan: plan}
	}
	return out
}

// teamsFromIdentities collects the distinct teams known to this deployment,
// used by the lease sweeper to drain each team's overflow queue (spec §4.6).
func teamsFromIdentities(identities map[string]auth.Identity) []limiter.Team {
	seen := make(map[string]struct{}, len(identities))
	var teams []limiter.Team
	for _, id := range identities {
		if _, ok := seen[id.TeamID]; ok {
			continue
		}
		seen[id.TeamID] = struct{}{}
		teams = append(teams, limiter.Team{ID: id.TeamID, Plan: limiter.Plan(id.Plan)})
	}
	return teams
}
