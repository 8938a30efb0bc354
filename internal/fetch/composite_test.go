package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlforge/pkg/types"
)

func TestNeedsRender(t *testing.T) {
	cases := []struct {
		name string
		opts types.ScrapeOptions
		want bool
	}{
		{"plain markdown", types.ScrapeOptions{Formats: []types.Format{{Type: types.FormatMarkdown}}}, false},
		{"mobile emulation", types.ScrapeOptions{Mobile: true}, true},
		{"has actions", types.ScrapeOptions{Actions: []types.Action{{Type: types.ActionClick}}}, true},
		{"screenshot format", types.ScrapeOptions{Formats: []types.Format{{Type: types.FormatScreenshot}}}, true},
		{"no formats no flags", types.ScrapeOptions{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsRender(tc.opts))
		})
	}
}

type stubFetcher struct {
	tag string
}

func (s *stubFetcher) Fetch(ctx context.Context, url string, opts types.ScrapeOptions) (*types.PageResult, error) {
	return &types.PageResult{
		URL:      url,
		Metadata: types.PageMetadata{SourceURL: url, Extra: map[string]string{"fetcher": s.tag}},
	}, nil
}

func TestCompositeDispatch(t *testing.T) {
	c := NewComposite(&stubFetcher{tag: "http"}, &stubFetcher{tag: "render"})

	page, err := c.Fetch(context.Background(), "https://example.com", types.ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http", page.Metadata.Extra["fetcher"])

	page, err = c.Fetch(context.Background(), "https://example.com", types.ScrapeOptions{Mobile: true})
	require.NoError(t, err)
	assert.Equal(t, "render", page.Metadata.Extra["fetcher"])
}
