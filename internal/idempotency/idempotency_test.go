package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlforge/internal/kvstore"
)

func TestCheckAllowsFirstUseOfAKey(t *testing.T) {
	g := New(kvstore.NewMemory(), time.Hour)
	key := uuid.NewString()

	assert.NoError(t, g.Check(context.Background(), "team1", key))
}

func TestCheckRejectsReplayWithLiteralMessage(t *testing.T) {
	g := New(kvstore.NewMemory(), time.Hour)
	key := uuid.NewString()
	ctx := context.Background()

	require.NoError(t, g.Check(ctx, "team1", key))

	err := g.Check(ctx, "team1", key)
	require.Error(t, err)
	assert.Equal(t, "Idempotency key already used", err.Error())
}

func TestCheckRejectsNonUUIDKey(t *testing.T) {
	g := New(kvstore.NewMemory(), time.Hour)
	assert.Error(t, g.Check(context.Background(), "team1", "not-a-uuid"))
}

func TestCheckAllowsEmptyKey(t *testing.T) {
	g := New(kvstore.NewMemory(), time.Hour)
	assert.NoError(t, g.Check(context.Background(), "team1", ""))
}
