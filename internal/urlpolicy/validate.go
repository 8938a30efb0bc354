package urlpolicy

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ValidSubmittedURL enforces the §4.10 request-validation contract: "URLs
// must include a valid TLD or be otherwise well-formed". A bare IP literal
// or a loopback/local host is well-formed even without a public suffix; a
// bare hostname like "foo" with no TLD and no dots is rejected, since it
// can never resolve on the public internet a scrape would reach.
func ValidSubmittedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	if host == "localhost" {
		return true
	}
	if !strings.Contains(host, ".") {
		return false
	}
	_, err = publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	return err == nil
}
