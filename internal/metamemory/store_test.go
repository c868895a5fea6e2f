package metamemory

import (
	"context"
	"testing"
	"time"

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
	return New(pool, config.MetaConfig{QualityHalfLifeDays: 30, AttentionBudgetMax: 1.0})
}

func TestRecordClampsAttentionWeight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.MetaRecord{SubjectKind: types.SubjectSemantic, SubjectID: "s1", ProjectID: "p1", AttentionWeight: 5.0}
	require.NoError(t, s.Record(ctx, m))

	got, err := s.Get(ctx, types.SubjectSemantic, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.AttentionWeight)
}

func TestGetAppliesHalfLifeDecay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &types.MetaRecord{
		SubjectKind:   types.SubjectSemantic,
		SubjectID:     "s1",
		ProjectID:     "p1",
		Quality:       types.QualityMetrics{Compression: 1.0, Recall: 1.0, Consistency: 1.0},
		LastEvaluated: time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, s.Record(ctx, m))

	got, err := s.Get(ctx, types.SubjectSemantic, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Quality.Recall, 0.02, "exactly one half-life elapsed should halve quality")
}

func TestTopByAttentionOrdersDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &types.MetaRecord{SubjectKind: types.SubjectSemantic, SubjectID: "low", ProjectID: "p1", AttentionWeight: 0.2}))
	require.NoError(t, s.Record(ctx, &types.MetaRecord{SubjectKind: types.SubjectSemantic, SubjectID: "high", ProjectID: "p1", AttentionWeight: 0.9}))

	top, err := s.TopByAttention(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].SubjectID)
}

func TestGetUnknownSubjectReturnsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), types.SubjectSemantic, "missing")
	require.Error(t, err)
}
