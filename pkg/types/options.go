// Package types holds the wire-shared data transfer objects for the crawl
// and scrape surfaces: crawler options, per-page scrape options, and the
// tagged-union "format" and "action" variants clients submit as loose
// string/object shorthands.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// CrawlerOptions controls frontier expansion for a crawl (spec §3).
type CrawlerOptions struct {
	IncludePaths          []string `json:"includePaths,omitempty"`
	ExcludePaths          []string `json:"excludePaths,omitempty"`
	Limit                 int      `json:"limit,omitempty"`
	MaxDepth              int      `json:"maxDepth,omitempty"`
	MaxDiscoveryDepth     int      `json:"maxDiscoveryDepth,omitempty"`
	AllowBackwardLinks    bool     `json:"allowBackwardLinks,omitempty"`
	AllowExternalLinks    bool     `json:"allowExternalLinks,omitempty"`
	AllowSubdomains       bool     `json:"allowSubdomains,omitempty"`
	IgnoreRobotsTxt       bool     `json:"ignoreRobotsTxt,omitempty"`
	IgnoreSitemap         bool     `json:"ignoreSitemap,omitempty"`
	DeduplicateSimilarURLs bool    `json:"deduplicateSimilarURLs,omitempty"`
	IgnoreQueryParameters bool     `json:"ignoreQueryParameters,omitempty"`
	RegexOnFullURL        bool     `json:"regexOnFullURL,omitempty"`
	DelayMs               int      `json:"delay,omitempty"`
}

// DefaultCrawlerOptions mirrors the conservative defaults used across the
// pack's crawler configs (bounded limit, shallow default depth).
func DefaultCrawlerOptions() CrawlerOptions {
	return CrawlerOptions{
		Limit:             1000,
		MaxDepth:          10,
		MaxDiscoveryDepth: 10,
		AllowSubdomains:   false,
	}
}

// UnmarshalJSON overlays the incoming object onto DefaultCrawlerOptions, so
// a field a client omits gets the default while a field it sends — including
// an explicit zero, such as maxDepth: 0 to bound a crawl to the seed page —
// is preserved exactly.
func (o *CrawlerOptions) UnmarshalJSON(data []byte) error {
	type alias CrawlerOptions
	a := alias(DefaultCrawlerOptions())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*o = CrawlerOptions(a)
	return nil
}

// Viewport bounds a screenshot request (spec §4.10: positive ints, <= 7680x4320).
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MaxViewportWidth and MaxViewportHeight are the validation ceiling from §4.10.
const (
	MaxViewportWidth  = 7680
	MaxViewportHeight = 4320
)

// Location describes the geographic/locale hints forwarded to the Fetcher.
type Location struct {
	Country   string   `json:"country,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// ProxyMode selects the Fetcher's network egress strategy.
type ProxyMode string

const (
	ProxyBasic   ProxyMode = "basic"
	ProxyStealth ProxyMode = "stealth"
	ProxyAuto    ProxyMode = "auto"
)

// CacheMode controls how stale a cached page may be before a refetch.
type CacheMode struct {
	MaxAgeMs int64 `json:"maxAge,omitempty"`
}

// Format is a tagged-union variant of the requested output formats. Clients
// may submit the bare string form (e.g. "markdown") or the fully tagged
// object form ({"type": "json", "schema": {...}}); NormalizeFormat converts
// the former to the latter before the core ever sees it (design note: Dynamic
// extension points as sum types).
type Format struct {
	Type   FormatType      `json:"type"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Prompt string          `json:"prompt,omitempty"`
}

// FormatType enumerates the supported scrape output kinds.
type FormatType string

const (
	FormatMarkdown   FormatType = "markdown"
	FormatHTML       FormatType = "html"
	FormatRawHTML    FormatType = "rawHtml"
	FormatLinks      FormatType = "links"
	FormatScreenshot FormatType = "screenshot"
	FormatJSON       FormatType = "json"
	FormatPDF        FormatType = "pdf"
)

var validFormatTypes = map[FormatType]bool{
	FormatMarkdown: true, FormatHTML: true, FormatRawHTML: true,
	FormatLinks: true, FormatScreenshot: true, FormatJSON: true, FormatPDF: true,
}

// NormalizeFormat accepts either a bare JSON string ("markdown") or a tagged
// object ({"type":"json","schema":{...}}) and returns the canonical Format.
func NormalizeFormat(raw json.RawMessage) (Format, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		ft := FormatType(asString)
		if !validFormatTypes[ft] {
			return Format{}, fmt.Errorf("unknown format type %q", asString)
		}
		return Format{Type: ft}, nil
	}

	// formatAlias has Format's fields but none of its methods, so
	// unmarshaling into it doesn't recurse back into UnmarshalJSON below.
	type formatAlias Format
	var a formatAlias
	if err := json.Unmarshal(raw, &a); err != nil {
		return Format{}, fmt.Errorf("invalid format: %w", err)
	}
	f := Format(a)
	if !validFormatTypes[f.Type] {
		return Format{}, fmt.Errorf("unknown format type %q", f.Type)
	}
	return f, nil
}

// UnmarshalJSON wires NormalizeFormat into every ordinary json.Unmarshal
// call (BodyParser included), so both the string-shorthand form and
// unknown-type rejection apply wherever a Format is decoded, not just at
// call sites that remember to call NormalizeFormat directly.
func (f *Format) UnmarshalJSON(data []byte) error {
	normalized, err := NormalizeFormat(data)
	if err != nil {
		return err
	}
	*f = normalized
	return nil
}

// ActionType enumerates the browser-automation steps a scrape may request
// before extraction runs.
type ActionType string

const (
	ActionWait     ActionType = "wait"
	ActionClick    ActionType = "click"
	ActionWrite    ActionType = "write"
	ActionPress    ActionType = "press"
	ActionScroll   ActionType = "scroll"
	ActionScreenshot ActionType = "screenshot"
)

// Action is a tagged-union browser step, decoded as a plain tagged object:
// unlike Format it has no string shorthand, and its type is not checked at
// decode time.
type Action struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Text     string     `json:"text,omitempty"`
	Key      string     `json:"key,omitempty"`
	Milliseconds int    `json:"milliseconds,omitempty"`
}

// ScrapeOptions controls how a single page is fetched, rendered and
// extracted (spec §3 scrape_options).
type ScrapeOptions struct {
	Formats            []Format      `json:"formats,omitempty"`
	WaitForMs          int           `json:"waitFor,omitempty"`
	TimeoutMs          int           `json:"timeout,omitempty"`
	Mobile             bool          `json:"mobile,omitempty"`
	ProxyMode          ProxyMode     `json:"proxy,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	Location           *Location     `json:"location,omitempty"`
	Cache              CacheMode     `json:"cache,omitempty"`
	Viewport           *Viewport     `json:"viewport,omitempty"`
	Actions            []Action      `json:"actions,omitempty"`
	SkipTLSVerify      bool          `json:"skipTlsVerification,omitempty"`
	SystemPrompt       string        `json:"systemPrompt,omitempty"`
}

// DefaultScrapeOptions mirrors the teacher's timeout/retry defaults, scaled
// to a single page fetch instead of a whole crawl.
func DefaultScrapeOptions() ScrapeOptions {
	return ScrapeOptions{
		Formats:   []Format{{Type: FormatMarkdown}},
		TimeoutMs: 30_000,
	}
}

// Validate enforces the §4.10 request-validation contracts that are cheap to
// check purely against the option struct's own fields (cross-field rules
// unrelated to external state, e.g. billing).
func (o ScrapeOptions) Validate() error {
	if o.TimeoutMs > 0 && o.WaitForMs > o.TimeoutMs/2 {
		return fmt.Errorf("waitFor (%dms) must be <= timeout/2 (%dms)", o.WaitForMs, o.TimeoutMs/2)
	}
	if o.Viewport != nil {
		if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
			return fmt.Errorf("viewport dimensions must be positive")
		}
		if o.Viewport.Width > MaxViewportWidth || o.Viewport.Height > MaxViewportHeight {
			return fmt.Errorf("viewport exceeds maximum of %dx%d", MaxViewportWidth, MaxViewportHeight)
		}
	}
	hasSchemaExtract := false
	for _, f := range o.Formats {
		if f.Type == FormatJSON && len(f.Schema) > 0 {
			hasSchemaExtract = true
		}
	}
	if hasSchemaExtract && o.SystemPrompt != "" {
		return fmt.Errorf("systemPrompt is not allowed alongside a schema-driven json format")
	}
	return nil
}

// EffectiveTimeout returns the timeout to apply, defaulting when unset.
func (o ScrapeOptions) EffectiveTimeout() time.Duration {
	if o.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(o.TimeoutMs) * time.Millisecond
}
