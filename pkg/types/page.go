package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// PageResult is the outcome of scraping a single URL, adapted from the
// teacher's Document type (pkg/document) to the crawl domain: a page result
// is keyed by the crawl/scrape unit rather than owning a storage path.
type PageResult struct {
	URL          string            `json:"url"`
	SourceURL    string            `json:"sourceURL"`
	StatusCode   int               `json:"statusCode"`
	Markdown     string            `json:"markdown,omitempty"`
	HTML         string            `json:"html,omitempty"`
	RawHTML      string            `json:"rawHtml,omitempty"`
	Links        []string          `json:"links,omitempty"`
	Screenshot   string            `json:"screenshot,omitempty"`
	JSON         json.RawMessage   `json:"json,omitempty"`
	PDFText      string            `json:"pdfText,omitempty"`
	ActionsOutput []ActionOutput   `json:"actionsOutput,omitempty"`
	Metadata     PageMetadata      `json:"metadata"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// ActionOutput holds the result of one requested browser action.
type ActionOutput struct {
	Type       ActionType `json:"type"`
	Screenshot string     `json:"screenshot,omitempty"`
	Text       string     `json:"text,omitempty"`
}

// PageMetadata carries page-level descriptive fields. SourceURL is the URL
// the Fetcher was given: the submitted URL as-is for /scrape, and the
// normalized URL for crawl and batch units.
type PageMetadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Language    string            `json:"language,omitempty"`
	SourceURL   string            `json:"sourceURL"`
	StatusCode  int               `json:"statusCode"`
	Error       string            `json:"error,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Validate reports whether the result has the minimum fields a completed
// page must carry.
func (p *PageResult) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("page result URL cannot be empty")
	}
	if p.Metadata.SourceURL == "" {
		return fmt.Errorf("page result must preserve the unnormalized source URL")
	}
	return nil
}
