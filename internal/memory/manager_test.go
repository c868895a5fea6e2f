package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/consolidate"
	"github.com/athena-core/memory/internal/retrieval"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DB.Path = ":memory:"
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestRememberSemanticThenRecall(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Remember(ctx, "p1", "the build pipeline uses buildkite", "semantic", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	report, err := m.Recall(ctx, "p1", "the build pipeline uses buildkite", retrieval.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Passed)
}

func TestRememberEpisodic(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Remember(ctx, "p1", "ran the test suite", "episodic", map[string]interface{}{"importance": 0.7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRememberProcedureRequiresName(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Remember(ctx, "p1", "steps to deploy", "procedure", nil)
	assert.Error(t, err)

	id, err := m.Remember(ctx, "p1", "steps to deploy", "procedure", map[string]interface{}{"name": "deploy"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestForgetUnknownKind(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.Forget(ctx, "bogus", "id")
	assert.Error(t, err)
}

func TestForgetSemanticDeletesUnconsolidated(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Remember(ctx, "p1", "a throwaway fact", "semantic", nil)
	require.NoError(t, err)

	require.NoError(t, m.Forget(ctx, "semantic", id))
}

func TestHealthAggregatesComponents(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	h := m.Health(ctx)
	assert.True(t, h.DB.Responsive)
	assert.NoError(t, h.Embedding)
	assert.NoError(t, h.LLM)
}

func TestConsolidateRunsWithoutEvents(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	report, err := m.Consolidate(ctx, "p1", consolidate.Params{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.EventsConsidered)
}

func TestSessionLifecycleEnqueuesConsolidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.Session().StartSession(ctx, "p1", "investigate")
	require.NoError(t, err)

	require.NoError(t, m.Session().EndSession(ctx, sess.SessionID))
}
