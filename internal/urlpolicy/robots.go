package urlpolicy

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/temoto/robotstxt"
)

const robotsTxtPath = "/robots.txt"

// Robots wraps a parsed robots.txt, grounded on codepr-webcrawler's
// CrawlingRules (crawlingrules.go), generalized from a single-crawl struct
// to a stateless evaluator callable per-URL since the Worker fleet has no
// shared in-process cache of parsed documents.
type Robots struct {
	group *robotstxt.Group
}

// FetchRobots retrieves and parses robots.txt for the origin of seedURL. It
// is best-effort: any fetch or parse failure yields an "allow everything"
// Robots rather than an error, since a missing robots.txt is the common
// case and must never block a crawl.
func FetchRobots(ctx context.Context, client *http.Client, seedURL, userAgent string) *Robots {
	u, err := url.Parse(seedURL)
	if err != nil {
		return &Robots{}
	}
	robotsURL := u.Scheme + "://" + u.Host + robotsTxtPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &Robots{}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return &Robots{}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &Robots{}
	}

	doc, err := robotstxt.FromResponse(resp)
	if err != nil {
		return &Robots{}
	}
	return &Robots{group: doc.FindGroup(userAgent)}
}

// ParseRobots parses raw robots.txt bytes tolerantly: malformed input never
// panics, and non-UTF-8 byte sequences are replaced before parsing (spec
// §4.4 S6).
func ParseRobots(raw []byte, userAgent string) *Robots {
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, string(utf8.RuneError))
	}
	doc, err := robotstxt.FromBytes(raw)
	if err != nil {
		return &Robots{}
	}
	return &Robots{group: doc.FindGroup(userAgent)}
}

// Allows reports whether rawURL may be fetched. A nil group (robots.txt
// absent, unfetchable or unparseable) allows everything.
func (r *Robots) Allows(rawURL string, ignoreRobotsTxt bool) bool {
	if ignoreRobotsTxt || r == nil || r.group == nil {
		return true
	}
	return r.group.Test(rawURL)
}

// CrawlDelay returns the crawl-delay directive, if any.
func (r *Robots) CrawlDelay() time.Duration {
	if r == nil || r.group == nil {
		return 0
	}
	return r.group.CrawlDelay
}
