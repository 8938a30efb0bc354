// Package webhook implements the Webhook Dispatcher of spec §4.9: a
// buffered, worker-pool event bus adapted from the teacher's
// internal/pipeline/EventBus (eventbus.go/events.go), generalized from an
// in-process Go-channel fanout to HTTP POST delivery with bounded retries,
// since webhook subscribers live outside the process.
package webhook

import "time"

// EventType enumerates the crawl and batch-scrape lifecycle events spec
// §6.2 requires delivery of.
type EventType string

const (
	EventCrawlStarted      EventType = "crawl.started"
	EventCrawlPage         EventType = "crawl.page"
	EventCrawlCompleted    EventType = "crawl.completed"
	EventCrawlFailed       EventType = "crawl.failed"
	EventBatchScrapeStarted   EventType = "batch_scrape.started"
	EventBatchScrapePage      EventType = "batch_scrape.page"
	EventBatchScrapeCompleted EventType = "batch_scrape.completed"
)

// Event is one lifecycle notification, adapted from the teacher's
// DocumentEvent to carry a crawl/unit id and arbitrary JSON-able payload
// instead of a document reference.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	CrawlID   string                 `json:"crawlId,omitempty"`
	UnitID    string                 `json:"unitId,omitempty"`
	TeamID    string                 `json:"teamId"`
	Payload   map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`

	// WebhookURL is the destination this event must be POSTed to. Empty
	// means the crawl/unit had no webhook configured, and Dispatch is a
	// no-op for delivery purposes (though it still reaches the live-tail
	// feed, spec §9's observability-without-polling design note).
	WebhookURL string `json:"-"`
}
