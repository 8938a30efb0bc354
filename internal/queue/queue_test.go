package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlforge/internal/kvstore"
	"github.com/caiatech/crawlforge/pkg/types"
)

func TestReserveSkipsUnitsNotYetDue(t *testing.T) {
	store := kvstore.NewMemory()
	q := NewKVJobQueue(store)
	ctx := context.Background()

	future := NewUnit("https://example.com/a", "team1", "free", 0, types.ScrapeOptions{})
	future.NotBefore = time.Now().Add(time.Hour)
	require.NoError(t, q.Submit(ctx, future))

	due := NewUnit("https://example.com/b", "team1", "free", 0, types.ScrapeOptions{})
	require.NoError(t, q.Submit(ctx, due))

	reserved, err := q.Reserve(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reserved)
	assert.Equal(t, due.ID, reserved.ID)

	second, err := q.Reserve(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestReserveReturnsNilOnEmptyQueue(t *testing.T) {
	store := kvstore.NewMemory()
	q := NewKVJobQueue(store)

	u, err := q.Reserve(context.Background(), "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSubmitIsIdempotentByUnitID(t *testing.T) {
	store := kvstore.NewMemory()
	q := NewKVJobQueue(store)
	ctx := context.Background()

	u := NewUnit("https://example.com", "team1", "free", 0, types.ScrapeOptions{})
	require.NoError(t, q.Submit(ctx, u))
	require.NoError(t, q.Submit(ctx, u))

	reserved, err := q.Reserve(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, reserved)

	second, err := q.Reserve(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)
}
