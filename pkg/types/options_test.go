package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnmarshalJSONAcceptsStringShorthand(t *testing.T) {
	var f Format
	require.NoError(t, json.Unmarshal([]byte(`"markdown"`), &f))
	assert.Equal(t, Format{Type: FormatMarkdown}, f)
}

func TestFormatUnmarshalJSONAcceptsTaggedObject(t *testing.T) {
	var f Format
	require.NoError(t, json.Unmarshal([]byte(`{"type":"json","schema":{"a":1}}`), &f))
	assert.Equal(t, FormatJSON, f.Type)
	assert.JSONEq(t, `{"a":1}`, string(f.Schema))
}

func TestFormatUnmarshalJSONRejectsUnknownStringType(t *testing.T) {
	var f Format
	assert.Error(t, json.Unmarshal([]byte(`"zzz"`), &f))
}

func TestFormatUnmarshalJSONRejectsUnknownObjectType(t *testing.T) {
	var f Format
	assert.Error(t, json.Unmarshal([]byte(`{"type":"zzz"}`), &f))
}

func TestScrapeOptionsFormatsSliceNormalizesShorthand(t *testing.T) {
	var o ScrapeOptions
	require.NoError(t, json.Unmarshal([]byte(`{"formats":["markdown","html"]}`), &o))
	require.Len(t, o.Formats, 2)
	assert.Equal(t, FormatMarkdown, o.Formats[0].Type)
	assert.Equal(t, FormatHTML, o.Formats[1].Type)
}

func TestCrawlerOptionsUnmarshalJSONDefaultsOmittedFields(t *testing.T) {
	var o CrawlerOptions
	require.NoError(t, json.Unmarshal([]byte(`{"limit":10}`), &o))
	assert.Equal(t, 10, o.Limit)
	assert.Equal(t, DefaultCrawlerOptions().MaxDepth, o.MaxDepth)
	assert.Equal(t, DefaultCrawlerOptions().MaxDiscoveryDepth, o.MaxDiscoveryDepth)
}

func TestCrawlerOptionsUnmarshalJSONPreservesExplicitZero(t *testing.T) {
	var o CrawlerOptions
	require.NoError(t, json.Unmarshal([]byte(`{"maxDepth":0,"limit":10}`), &o))
	assert.Equal(t, 0, o.MaxDepth)
	assert.Equal(t, 10, o.Limit)
}
