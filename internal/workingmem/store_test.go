package workingmem

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
	return New(pool, config.WorkingMemConfig{SoftCapacity: 7, HardCapacity: 9, DecayFloor: 0.1})
}

func TestInsertEvictsLowestActivationAtSoftCapacity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var lowestID string
	for i := 0; i < 7; i++ {
		activation := 1.0
		if i == 0 {
			activation = 0.01
			lowestID = "will-be-set"
		}
		item := &types.WorkingMemoryItem{ProjectID: "p1", Content: "item", Component: types.ComponentCentralExec, Activation: activation}
		require.NoError(t, s.Insert(ctx, item))
		if i == 0 {
			lowestID = item.ID
		}
	}

	items, err := s.List(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, items, 7)

	// The 8th insert exceeds soft capacity and must evict the lowest-activation item first.
	require.NoError(t, s.Insert(ctx, &types.WorkingMemoryItem{ProjectID: "p1", Content: "new", Component: types.ComponentCentralExec, Activation: 1.0}))

	items, err = s.List(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, items, 7)
	for _, it := range items {
		assert.NotEqual(t, lowestID, it.ID, "lowest-activation item must have been evicted")
	}
}

func TestInsertReturnsCapacityExceededAtHardCapacity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, s.Insert(ctx, &types.WorkingMemoryItem{ProjectID: "p1", Content: "item", Component: types.ComponentCentralExec, Activation: 1.0}))
	}

	err := s.Insert(ctx, &types.WorkingMemoryItem{ProjectID: "p1", Content: "overflow", Component: types.ComponentCentralExec, Activation: 1.0})
	require.Error(t, err)
	var e *erring.E
	require.ErrorAs(t, err, &e)
	assert.Equal(t, erring.CodeCapacityExceeded, e.Code())
}

func TestListAppliesExponentialDecay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := &types.WorkingMemoryItem{
		ProjectID:    "p1",
		Content:      "decaying",
		Component:    types.ComponentCentralExec,
		Activation:   1.0,
		DecayRate:    0.1,
		LastAccessed: time.Now().Add(-10 * time.Second),
	}
	require.NoError(t, s.Insert(ctx, item))

	items, err := s.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Less(t, items[0].Activation, 1.0)
}

func TestSweepRemovesFloorItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &types.WorkingMemoryItem{
		ProjectID: "p1", Content: "stale", Component: types.ComponentCentralExec,
		Activation: 0.1, DecayRate: 0.1, LastAccessed: time.Now().Add(-time.Hour),
	}))

	removed, err := s.Sweep(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
