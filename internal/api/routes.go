package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// RegisterRoutes wires the Public API Surface of spec §4.10 onto app,
// grounded on the teacher's middleware stack (recover/logger/cors ahead of
// every route, a flat route table with no versioning prefix).
func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)

	app.Post("/scrape", h.Scrape)
	app.Post("/crawl", h.Crawl)
	app.Get("/crawl/ongoing", h.OngoingCrawls)
	app.Get("/crawl/live", h.LiveTail)
	app.Get("/crawl/:id", h.CrawlStatus)
	app.Get("/crawl/:id/errors", h.CrawlErrors)
	app.Delete("/crawl/:id", h.CancelCrawl)

	app.Post("/batch/scrape", h.BatchScrape)
	app.Get("/batch/scrape/:id", h.BatchStatus)

	app.Post("/search", h.Search)
}
