package crawl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlforge/internal/blob"
	"github.com/caiatech/crawlforge/internal/queue"
	"github.com/caiatech/crawlforge/pkg/types"
)

func TestSaveToBlobSkipsWhenFlagUnset(t *testing.T) {
	store := blob.NewInMemory()
	w := &Worker{blob: store}
	u := &queue.Unit{ID: "unit-1"}
	page := &types.PageResult{RawHTML: "<html></html>"}

	w.saveToBlob(context.Background(), u, page)

	_, err := store.Get(context.Background(), "unit:unit-1")
	assert.Error(t, err)
}

func TestSaveToBlobPersistsRawHTML(t *testing.T) {
	store := blob.NewInMemory()
	w := &Worker{blob: store}
	u := &queue.Unit{ID: "unit-2", InternalOptions: queue.InternalOptions{SaveToBlob: true}}
	page := &types.PageResult{RawHTML: "<html><body>hi</body></html>"}

	w.saveToBlob(context.Background(), u, page)

	got, err := store.Get(context.Background(), "unit:unit-2")
	require.NoError(t, err)
	assert.Equal(t, page.RawHTML, string(got))
}

func TestSaveToBlobFallsBackToHTMLWhenRawHTMLEmpty(t *testing.T) {
	store := blob.NewInMemory()
	w := &Worker{blob: store}
	u := &queue.Unit{ID: "unit-3", InternalOptions: queue.InternalOptions{SaveToBlob: true}}
	page := &types.PageResult{HTML: "<p>rendered</p>"}

	w.saveToBlob(context.Background(), u, page)

	got, err := store.Get(context.Background(), "unit:unit-3")
	require.NoError(t, err)
	assert.Equal(t, page.HTML, string(got))
}

func TestSaveToBlobNilStoreIsNoop(t *testing.T) {
	w := &Worker{}
	u := &queue.Unit{ID: "unit-4", InternalOptions: queue.InternalOptions{SaveToBlob: true}}
	page := &types.PageResult{RawHTML: "<html></html>"}

	assert.NotPanics(t, func() {
		w.saveToBlob(context.Background(), u, page)
	})
}
