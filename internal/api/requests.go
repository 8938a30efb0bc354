// Package api implements the Public API Surface of spec §4.10: request
// validation, admission, and the status/cancel endpoints, grounded on the
// teacher's Fiber handler shape (recover/logger/cors middleware, a single
// Handlers struct, fiber.Map JSON bodies).
package api

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/caiatech/crawlforge/internal/apierr"
	"github.com/caiatech/crawlforge/internal/urlpolicy"
	"github.com/caiatech/crawlforge/pkg/types"
)

var validate = validator.New()

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	URL           string              `json:"url" validate:"required"`
	ScrapeOptions types.ScrapeOptions `json:"scrapeOptions"`
}

// CrawlRequest is the body of POST /crawl.
type CrawlRequest struct {
	URL            string               `json:"url" validate:"required"`
	CrawlerOptions types.CrawlerOptions `json:"crawlerOptions"`
	ScrapeOptions  types.ScrapeOptions  `json:"scrapeOptions"`
	Webhook        string               `json:"webhook,omitempty"`
}

// BatchScrapeRequest is the body of POST /batch/scrape.
type BatchScrapeRequest struct {
	URLs          []string            `json:"urls" validate:"required,min=1"`
	ScrapeOptions types.ScrapeOptions `json:"scrapeOptions"`
	Webhook       string              `json:"webhook,omitempty"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query         string               `json:"query" validate:"required"`
	Limit         int                  `json:"limit,omitempty"`
	Country       string               `json:"country,omitempty"`
	ScrapeResults bool                 `json:"scrapeResults,omitempty"`
	ScrapeOptions types.ScrapeOptions  `json:"scrapeOptions,omitempty"`
}

// validateURL applies the §4.10 "must include a valid TLD or be otherwise
// well-formed" contract shared by every endpoint that accepts a URL.
func validateURL(raw string) error {
	if !urlpolicy.ValidSubmittedURL(raw) {
		return apierr.New(apierr.KindValidation, fmt.Errorf("invalid or unreachable url: %q", raw))
	}
	return nil
}

func (r *ScrapeRequest) validateAll() error {
	if err := validate.Struct(r); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if err := r.ScrapeOptions.Validate(); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	return nil
}

func (r *CrawlRequest) validateAll() error {
	if err := validate.Struct(r); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	if err := validateURL(r.URL); err != nil {
		return err
	}
	if err := r.ScrapeOptions.Validate(); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	return nil
}

func (r *BatchScrapeRequest) validateAll() error {
	if err := validate.Struct(r); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	for _, u := range r.URLs {
		if err := validateURL(u); err != nil {
			return err
		}
	}
	if err := r.ScrapeOptions.Validate(); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	return nil
}

func (r *SearchRequest) validateAll() error {
	if err := validate.Struct(r); err != nil {
		return apierr.New(apierr.KindValidation, err)
	}
	return nil
}
