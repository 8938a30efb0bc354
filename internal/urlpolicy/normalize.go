// Package urlpolicy implements the stateless decision functions of spec
// §4.4: normalization, blocklist checks, robots.txt evaluation, crawl-scope
// matching and sitemap discovery. Grounded on the teacher's ComplianceEngine
// (internal/procurement/scraping/compliance.go) for the blocklist/whitelist
// shape, generalized from a fixed domain list to a plain blocklist loaded
// from configuration at startup, and on codepr-webcrawler's crawlingrules.go
// for wrapping temoto/robotstxt instead of hand-parsing robots directives.
package urlpolicy

import (
	"net/url"
	"strings"
)

// Normalize lower-cases scheme/host, strips the default port, resolves
// "." / ".." segments, and optionally strips query parameters. Trailing
// slashes are preserved exactly as given — this is a contract test in
// spec §8 (depth-0 vs depth-1 edge cases depend on it).
func Normalize(raw string, stripQuery bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	stripDefaultPort(u)
	u.Path = cleanPath(u.Path)
	if stripQuery {
		u.RawQuery = ""
	}
	u.Fragment = ""
	return u.String(), nil
}

func stripDefaultPort(u *url.URL) {
	host := u.Host
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		u.Host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		u.Host = strings.TrimSuffix(host, ":443")
	}
}

// cleanPath resolves "." and ".." segments while preserving a trailing
// slash exactly as given (url.URL / path.Clean would otherwise normalize
// "/a/" down to "/a" in some cases, which spec §4.4 forbids).
func cleanPath(p string) string {
	if p == "" {
		return p
	}
	trailingSlash := strings.HasSuffix(p, "/") && p != "/"
	segments := strings.Split(p, "/")
	var out []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	cleaned := "/" + strings.Join(out, "/")
	if trailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	if p == "/" {
		return "/"
	}
	return cleaned
}

// PathDepth counts non-empty path segments, the depth metric used by
// matches_crawl_scope (spec §4.4): "/" is depth 0, "/a" and "/a/" are both
// depth 1.
func PathDepth(p string) int {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	depth := 0
	for _, s := range segments {
		if s != "" {
			depth++
		}
	}
	return depth
}
