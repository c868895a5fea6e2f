package episodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return New(pool)
}

func TestAppendDedupesByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e1 := &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventUserInput, Content: "login failed"}
	e2 := &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventUserInput, Content: "login succeeded"}
	e3 := &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventUserInput, Content: "login failed"}

	ids, err := s.AppendBatch(ctx, []*types.EpisodicEvent{e1, e2, e3})
	require.NoError(t, err)
	assert.Equal(t, ids[0], ids[2], "duplicate content_hash must return the existing id")
	assert.NotEqual(t, ids[0], ids[1])

	count, err := s.Count(ctx, "p1", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, count, "exactly one row written per distinct event")
}

func TestAppendIsIdempotentAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventError, Content: "disk full"}
	id1, err := s.Append(ctx, e)
	require.NoError(t, err)

	id2, err := s.Append(ctx, &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventError, Content: "disk full"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestMarkLifecycleForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Append(ctx, &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventDecision, Content: "chose plan A"})
	require.NoError(t, err)

	require.NoError(t, s.MarkLifecycle(ctx, []string{id}, types.LifecycleConsolidating))
	require.NoError(t, s.MarkLifecycle(ctx, []string{id}, types.LifecycleConsolidated))

	err = s.MarkLifecycle(ctx, []string{id}, types.LifecycleActive)
	require.Error(t, err)
	var e *erring.E
	require.ErrorAs(t, err, &e)
	assert.Equal(t, erring.CodeInvalidLifecycle, e.Code())
}

func TestRecallTemporalReturnsWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, &types.EpisodicEvent{ProjectID: "p1", EventType: types.EventUserInput, Content: "hello"})
	require.NoError(t, err)

	events, err := s.RecallTemporal(ctx, "p1", 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestGetUnknownIDReturnsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}
