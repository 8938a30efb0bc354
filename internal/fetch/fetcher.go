// Package fetch declares the Fetcher boundary of spec §6.1: the external
// collaborator that turns a URL into a PageResult. The core is indifferent
// to how rendering happens; HTTPFetcher and RenderFetcher are reference
// adapters grounded on the teacher's ContentExtractor
// (internal/procurement/scraping/extractor.go), swapped from "content
// extraction for document storage" to "page fetch for a scrape unit".
package fetch

import (
	"context"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/pkg/types"
)

// Fetcher fetches a single URL under the given scrape options, producing a
// PageResult or a classified *apierr.Error (Timeout, BadStatus,
// NetworkError, InsufficientTimeForPDF, BlockedByProvider per spec §6.1).
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts types.ScrapeOptions) (*types.PageResult, error)
}

// ClassifyHTTPStatus maps an upstream HTTP status to the apierr.Kind a
// Fetcher should report. HTTPFetcher uses it; RenderFetcher does not
// inspect the upstream status.
func ClassifyHTTPStatus(status int) apierr.Kind {
	switch {
	case status >= 500:
		return apierr.KindTransientNetwork
	case status >= 400:
		return apierr.KindPermanentFetch
	default:
		return apierr.KindInternal
	}
}
