package urlpolicy

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Blocklist holds the registrable-domain denylist and keyword whitelist
// described in spec §4.4, generalized from the teacher's hardcoded
// WhitelistedDomains/BlacklistedDomains fields to a list loaded from
// configuration. Entries are plain strings; nothing here or in the config
// loader decrypts them.
type Blocklist struct {
	domains  map[string]struct{}
	keywords []string
}

// NewBlocklist builds a Blocklist from plain domain and keyword lists.
func NewBlocklist(domains, allowKeywords []string) *Blocklist {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(d)] = struct{}{}
	}
	return &Blocklist{domains: set, keywords: allowKeywords}
}

// registrableDomain returns the eTLD+1 (e.g. "example.co.uk" for
// "www.example.co.uk") using the public suffix list, falling back to the
// bare host when the list can't parse it.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	if d, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return d
	}
	return host
}

// IsBlocked reports whether rawURL is blocked per spec §4.4: exact
// registrable-domain match, subdomain suffix match, or base-domain match
// across TLDs — unless the URL contains an allowed keyword. Invalid URLs
// are never blocked; downstream validators reject them instead.
func (b *Blocklist) IsBlocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	for _, kw := range b.keywords {
		if kw != "" && strings.Contains(strings.ToLower(rawURL), strings.ToLower(kw)) {
			return false
		}
	}

	host := strings.ToLower(u.Hostname())
	reg := registrableDomain(host)
	baseOfReg := baseLabel(reg)

	for entry := range b.domains {
		if host == entry || reg == entry {
			return true
		}
		if strings.HasSuffix(host, "."+entry) {
			return true
		}
		if baseLabel(entry) == baseOfReg {
			return true
		}
	}
	return false
}

// baseLabel returns the leftmost label of a registrable domain ("example"
// from "example.com" or "example.co.uk"), used for the "base domain
// matches across TLDs" rule.
func baseLabel(registrable string) string {
	parts := strings.Split(registrable, ".")
	if len(parts) == 0 {
		return registrable
	}
	return parts[0]
}
