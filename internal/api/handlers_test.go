package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlforge/internal/auth"
	"github.com/caiatech/crawlforge/internal/billing"
	"github.com/caiatech/crawlforge/internal/crawl"
	"github.com/caiatech/crawlforge/internal/idempotency"
	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/search"
	"github.com/caiatech/crawlforge/internal/webhook"
)

func newTestApp(t *testing.T) (*fiber.App, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemory()
	jobQueue := queue.NewKVJobQueue(store)
	lim := limiter.New(store, jobQueue, nil)
	dispatcher := webhook.NewDispatcher(16, 1)
	scheduler := crawl.NewScheduler(store, jobQueue, lim, dispatcher, "crawlforge-test/1.0")
	idemGate := idempotency.New(store, time.Hour)
	authProvider := auth.NewAPIKey(map[string]auth.Identity{
		"test-token": {TeamID: "team1", Plan: "free"},
	})

	h := NewHandlers(store, jobQueue, lim, scheduler, idemGate, dispatcher, authProvider, billing.Unlimited{}, search.Null{})

	app := fiber.New()
	RegisterRoutes(app, h)
	return app, store
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadyEndpointReportsKVHealth(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "/ready", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestScrapeRejectsMissingAuth(t *testing.T) {
	app, _ := newTestApp(t)

	body := `{"url":"https://example.com"}`
	req := httptest.NewRequest("POST", "/scrape", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestScrapeRejectsInvalidURL(t *testing.T) {
	app, _ := newTestApp(t)

	body := `{"url":"not-a-url"}`
	req := httptest.NewRequest("POST", "/scrape", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
