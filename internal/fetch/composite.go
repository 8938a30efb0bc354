package fetch

import (
	"context"

	"github.com/caiatech/crawlforge/pkg/types"
)

// Composite picks between a plain-HTTP Fetcher and a headless-browser
// Fetcher per request, so a deployment can run both reference adapters
// side by side instead of committing every scrape to the heavier render
// path. Grounded on the teacher's ContentExtractor dispatch-by-content-type
// switch (internal/procurement/scraping/extractor.go), generalized to
// dispatch by requested scrape capability instead of response MIME type.
type Composite struct {
	HTTP   Fetcher
	Render Fetcher
}

// NewComposite builds a Composite from the two reference Fetchers.
func NewComposite(httpFetcher, renderFetcher Fetcher) *Composite {
	return &Composite{HTTP: httpFetcher, Render: renderFetcher}
}

func (c *Composite) Fetch(ctx context.Context, url string, opts types.ScrapeOptions) (*types.PageResult, error) {
	if NeedsRender(opts) {
		return c.Render.Fetch(ctx, url, opts)
	}
	return c.HTTP.Fetch(ctx, url, opts)
}

// NeedsRender reports whether opts require JavaScript execution: browser
// actions, a screenshot format, or mobile emulation all imply a live DOM
// the plain-HTTP Fetcher cannot produce.
func NeedsRender(opts types.ScrapeOptions) bool {
	if opts.Mobile || len(opts.Actions) > 0 {
		return true
	}
	for _, f := range opts.Formats {
		if f.Type == types.FormatScreenshot {
			return true
		}
	}
	return false
}
