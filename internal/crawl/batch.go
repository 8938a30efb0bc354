package crawl

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/internal/limiter"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/internal/urlpolicy"
	"github.com/caiatech/crawlforge/internal/webhook"
	"github.com/caiatech/crawlforge/pkg/types"
)

// BatchRecord tracks a POST /batch/scrape request: unlike a crawl, a batch
// never discovers links, so it needs no CrawlURLSet lock table — only the
// flat list of unit ids it submitted.
type BatchRecord struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	Webhook   string    `json:"webhook,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func batchKey(id string) string     { return "batch:" + id }
func batchJobsKey(id string) string { return "batch:" + id + ":jobs" }

const batchTTL = 7 * 24 * time.Hour

func (b *BatchRecord) store(ctx context.Context, kv kvstore.Store) error {
	enc, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return kv.Set(ctx, batchKey(b.ID), enc, batchTTL)
}

// LoadBatch reads a BatchRecord by id.
func LoadBatch(ctx context.Context, kv kvstore.Store, id string) (*BatchRecord, error) {
	raw, err := kv.Get(ctx, batchKey(id))
	if err != nil {
		return nil, err
	}
	var b BatchRecord
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BatchJobIDs returns every unit id submitted under a batch.
func BatchJobIDs(ctx context.Context, kv kvstore.Store, id string) ([]string, error) {
	raw, err := kv.LRange(ctx, batchJobsKey(id), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, b := range raw {
		out[i] = string(b)
	}
	return out, nil
}

// CreateBatch submits one ScrapeUnit per url with no link discovery (spec
// §4.10: "like crawl but no link discovery; every URL is an initial
// ScrapeUnit"). Units carry no CrawlID, so the Worker's discoverLinks step
// never runs for them and their webhook events use batch_scrape.* types.
func (s *Scheduler) CreateBatch(ctx context.Context, team limiter.Team, urls []string, scrapeOpts types.ScrapeOptions, webhookURL string) (*BatchRecord, error) {
	b := &BatchRecord{ID: uuid.NewString(), TeamID: team.ID, Webhook: webhookURL, CreatedAt: time.Now()}
	if err := b.store(ctx, s.kv); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(&webhook.Event{
		ID: b.ID, Type: webhook.EventBatchScrapeStarted, TeamID: team.ID,
		CreatedAt: time.Now(), WebhookURL: webhookURL,
	})

	for _, raw := range urls {
		norm, err := urlpolicy.Normalize(raw, false)
		if err != nil {
			continue
		}
		u := queue.NewUnit(norm, team.ID, string(team.Plan), basePriority, scrapeOpts)
		u.Webhook = webhookURL
		if err := s.kv.RPush(ctx, batchJobsKey(b.ID), []byte(u.ID)); err != nil {
			return nil, err
		}
		if err := s.limiter.Admit(ctx, team, u); err != nil {
			return nil, err
		}
	}
	return b, nil
}
