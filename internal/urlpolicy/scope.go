package urlpolicy

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/caiatech/crawlforge/pkg/types"
)

// ScopeDecision is the result of matches_crawl_scope (spec §4.4).
type ScopeDecision string

const (
	ScopeAllow          ScopeDecision = "allow"
	ScopeDenyExternal   ScopeDecision = "deny_external"
	ScopeDenyPath       ScopeDecision = "deny_path"
	ScopeDenyDepth      ScopeDecision = "deny_depth"
	ScopeDenyBackward   ScopeDecision = "deny_backward"
	ScopeDenySubdomain  ScopeDecision = "deny_subdomain"
)

// MatchesCrawlScope applies the seven ordered rules of spec §4.4.
// discoveryDepth is the number of link-discovery hops from the seed
// (distinct from path depth).
func MatchesCrawlScope(rawURL, seedURL string, opts types.CrawlerOptions, discoveryDepth int) ScopeDecision {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ScopeDenyPath
	}
	seed, err := url.Parse(seedURL)
	if err != nil {
		return ScopeDenyPath
	}

	// 1. external domain
	if !opts.AllowExternalLinks && registrableDomain(u.Hostname()) != registrableDomain(seed.Hostname()) {
		return ScopeDenyExternal
	}

	// 2. subdomain
	if !opts.AllowSubdomains && !strings.EqualFold(u.Hostname(), seed.Hostname()) {
		return ScopeDenySubdomain
	}

	// 3. include paths
	if len(opts.IncludePaths) > 0 {
		subject := u.Path
		if opts.RegexOnFullURL {
			subject = rawURL
		}
		if !anyMatch(opts.IncludePaths, subject) {
			return ScopeDenyPath
		}
	}

	// 4. exclude paths
	if len(opts.ExcludePaths) > 0 {
		subject := u.Path
		if opts.RegexOnFullURL {
			subject = rawURL
		}
		if anyMatch(opts.ExcludePaths, subject) {
			return ScopeDenyPath
		}
	}

	// 5. backward links / descendant-of-seed-path
	if !opts.AllowBackwardLinks && !isDescendantPath(seed.Path, u.Path) {
		return ScopeDenyBackward
	}

	// 6. max depth (path segments relative to seed, spec §4.4): a
	// max_depth of 0 bounds the crawl to the seed page itself, so the
	// check always runs rather than only when a positive bound is set.
	if PathDepth(u.Path)-PathDepth(seed.Path) > opts.MaxDepth {
		return ScopeDenyDepth
	}

	// 7. max discovery depth (link-hops from seed)
	if opts.MaxDiscoveryDepth > 0 && discoveryDepth > opts.MaxDiscoveryDepth {
		return ScopeDenyDepth
	}

	return ScopeAllow
}

func anyMatch(patterns []string, subject string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(subject) {
			return true
		}
	}
	return false
}

// isDescendantPath reports whether candidate is the seed path or nested
// under it.
func isDescendantPath(seedPath, candidate string) bool {
	seedPath = strings.TrimSuffix(seedPath, "/")
	if seedPath == "" {
		return true
	}
	return candidate == seedPath || strings.HasPrefix(candidate, seedPath+"/")
}
