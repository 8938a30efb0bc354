package urlpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caiatech/crawlforge/pkg/types"
)

func TestMatchesCrawlScopeMaxDepthZeroAllowsOnlySeed(t *testing.T) {
	opts := types.CrawlerOptions{MaxDepth: 0}

	assert.Equal(t, ScopeAllow, MatchesCrawlScope("https://example.test/pages/", "https://example.test/pages/", opts, 0))
	assert.Equal(t, ScopeDenyDepth, MatchesCrawlScope("https://example.test/pages/a", "https://example.test/pages/", opts, 1))
	assert.Equal(t, ScopeDenyDepth, MatchesCrawlScope("https://example.test/pages/b", "https://example.test/pages/", opts, 1))
}

func TestMatchesCrawlScopeMaxDepthIsRelativeToSeed(t *testing.T) {
	opts := types.CrawlerOptions{MaxDepth: 1}

	// seed at /pages (depth 1): a link one segment deeper is relative
	// depth 1, within bound.
	assert.Equal(t, ScopeAllow, MatchesCrawlScope("https://example.test/pages/a", "https://example.test/pages/", opts, 1))
	// two segments deeper than seed is relative depth 2, over bound.
	assert.Equal(t, ScopeDenyDepth, MatchesCrawlScope("https://example.test/pages/a/b", "https://example.test/pages/", opts, 1))
}

func TestMatchesCrawlScopeMaxDiscoveryDepth(t *testing.T) {
	opts := types.CrawlerOptions{MaxDepth: 10, MaxDiscoveryDepth: 1}

	assert.Equal(t, ScopeAllow, MatchesCrawlScope("https://example.test/a", "https://example.test/", opts, 1))
	assert.Equal(t, ScopeDenyDepth, MatchesCrawlScope("https://example.test/a/b", "https://example.test/", opts, 2))
}

func TestMatchesCrawlScopeDeniesExternalDomain(t *testing.T) {
	opts := types.CrawlerOptions{MaxDepth: 10}
	assert.Equal(t, ScopeDenyExternal, MatchesCrawlScope("https://other.test/a", "https://example.test/", opts, 1))
}

func TestMatchesCrawlScopeDeniesBackwardLinks(t *testing.T) {
	opts := types.CrawlerOptions{MaxDepth: 10}
	assert.Equal(t, ScopeDenyBackward, MatchesCrawlScope("https://example.test/other", "https://example.test/pages/", opts, 1))
}
