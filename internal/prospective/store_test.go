package prospective

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

func TestCreateRejectsCyclicDependency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &types.Task{ProjectID: "p1", Title: "a"}
	require.NoError(t, s.Create(ctx, a))

	b := &types.Task{ProjectID: "p1", Title: "b", Dependencies: []string{a.ID}}
	require.NoError(t, s.Create(ctx, b))

	// Attempting to make "a" depend on "b" would close a cycle a->b->a.
	cyclic := &types.Task{ID: a.ID, ProjectID: "p1", Title: "a-v2", Dependencies: []string{b.ID}}
	err := s.checkAcyclic(ctx, "p1", a.ID, cyclic.Dependencies)
	require.Error(t, err)
}

func TestListReadyOnlyReturnsTasksWithCompletedDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dep := &types.Task{ProjectID: "p1", Title: "dep"}
	require.NoError(t, s.Create(ctx, dep))

	blocked := &types.Task{ProjectID: "p1", Title: "blocked", Dependencies: []string{dep.ID}}
	require.NoError(t, s.Create(ctx, blocked))

	ready, err := s.ListReady(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, ready, 1, "blocked task must not be ready while its dependency is pending")
	assert.Equal(t, dep.ID, ready[0].ID, "only the dependency itself is ready")

	require.NoError(t, s.UpdateStatus(ctx, dep.ID, types.TaskCompleted, types.PhaseCompleted))

	ready, err = s.ListReady(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, blocked.ID, ready[0].ID)
}

func TestFireTriggersMatchesEventKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &types.Task{
		ProjectID: "p1",
		Title:     "react to deploy",
		Triggers:  []types.Trigger{{Kind: types.TriggerEvent, Params: map[string]interface{}{"key": "deploy.finished"}}},
	}
	require.NoError(t, s.Create(ctx, task))

	fired, err := s.FireTriggers(ctx, "p1", TriggerSignal{Kind: types.TriggerEvent, Key: "deploy.finished"})
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, task.ID, fired[0])

	fired, err = s.FireTriggers(ctx, "p1", TriggerSignal{Kind: types.TriggerEvent, Key: "unrelated"})
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestGetUnknownIDReturnsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
}
