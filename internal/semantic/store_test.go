package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return New(pool, config.DefaultConfig().Recall)
}

func TestRememberThenRecallReturnsSameMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.SemanticMemory{
		ProjectID:  "p1",
		Content:    "the build pipeline retries flaky tests three times",
		Embedding:  []float32{1, 0, 0},
		MemoryType: types.MemoryFact,
		Confidence: 0.9,
	}
	require.NoError(t, s.Upsert(ctx, m))

	results, err := s.Search(ctx, "p1", "build pipeline retries flaky tests", []float32{1, 0, 0}, SearchParams{K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].Memory.ID)
	assert.GreaterOrEqual(t, results[0].Score, s.cfg.MinSimilarity)
}

func TestSearchDropsBelowMinSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.SemanticMemory{
		ProjectID:  "p1",
		Content:    "unrelated content about weather",
		Embedding:  []float32{0, 1, 0},
		MemoryType: types.MemoryFact,
		Confidence: 0.5,
	}
	require.NoError(t, s.Upsert(ctx, m))

	results, err := s.Search(ctx, "p1", "database migration rollback", []float32{1, 0, 0}, SearchParams{K: 5, MinSimilarity: 0.9})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.SemanticMemory{
		ProjectID:  "p1",
		Content:    "three dims",
		Embedding:  []float32{1, 0, 0},
		MemoryType: types.MemoryFact,
	}
	require.NoError(t, s.Upsert(ctx, m))

	_, err := s.Search(ctx, "p1", "query", []float32{1, 0}, SearchParams{K: 5})
	require.Error(t, err)
}

func TestUpsertConsolidatedRequiresProvenance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.SemanticMemory{
		ProjectID:          "p1",
		Content:            "promoted fact",
		MemoryType:         types.MemoryFact,
		ConsolidationState: types.ConsolidationConsolidated,
	}
	err := s.Upsert(ctx, m)
	require.Error(t, err)
}

func TestCountReflectsUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &types.SemanticMemory{ProjectID: "p1", Content: "a", MemoryType: types.MemoryFact}))
	require.NoError(t, s.Upsert(ctx, &types.SemanticMemory{ProjectID: "p1", Content: "b", MemoryType: types.MemoryFact}))

	count, err := s.Count(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
