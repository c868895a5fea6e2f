package procedural

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
	return New(pool)
}

func TestCreateVersionIncrementsMonotonically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &types.Procedure{ProjectID: "p1", Name: "deploy", TriggerPattern: "deploy"}
	require.NoError(t, s.CreateVersion(ctx, p1))
	assert.Equal(t, 1, p1.Version)

	p2 := &types.Procedure{ProjectID: "p1", Name: "deploy", TriggerPattern: "deploy v2"}
	require.NoError(t, s.CreateVersion(ctx, p2))
	assert.Equal(t, 2, p2.Version)

	original, err := s.Get(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", original.TriggerPattern, "prior version must never be mutated")
}

func TestRecordExecutionUpdatesBetaSmoothedEffectiveness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &types.Procedure{ProjectID: "p1", Name: "retry-job"}
	require.NoError(t, s.CreateVersion(ctx, p))
	assert.Equal(t, 0.5, p.Effectiveness, "Beta(1,1) prior before any executions")

	require.NoError(t, s.RecordExecution(ctx, p.ID, true))
	require.NoError(t, s.RecordExecution(ctx, p.ID, true))
	require.NoError(t, s.RecordExecution(ctx, p.ID, false))

	updated, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.ExecutionCount)
	assert.Equal(t, 2, updated.SuccessCount)
	assert.InDelta(t, 3.0/5.0, updated.Effectiveness, 1e-9)
}

func TestMatchTriggersReturnsLatestVersionOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &types.Procedure{ProjectID: "p1", Name: "rollback", TriggerPattern: "rollback"}
	require.NoError(t, s.CreateVersion(ctx, p1))
	p2 := &types.Procedure{ProjectID: "p1", Name: "rollback", TriggerPattern: "rollback"}
	require.NoError(t, s.CreateVersion(ctx, p2))

	matched, err := s.MatchTriggers(ctx, "p1", "need to rollback the deploy")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, p2.ID, matched[0].ID)
}

func TestGetUnknownIDReturnsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}
