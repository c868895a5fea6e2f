package consolidate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/llm"
	"github.com/athena-core/memory/internal/semantic"
	"github.com/athena-core/memory/internal/types"
)

// failingLLM always fails Generate, simulating a System 2 provider outage.
type failingLLM struct{}

func (failingLLM) Generate(context.Context, string, int) (string, error) {
	return "", errors.New("provider unavailable")
}
func (failingLLM) Score(context.Context, string) (float64, error) { return 0, nil }
func (failingLLM) Health(context.Context) error                   { return errors.New("down") }
func (failingLLM) Name() string                                   { return "failing" }

func newTestEngineWithLLM(t *testing.T, cfg config.ConsolConfig, client llm.Client) (*Engine, *episodic.Store, *semantic.Store) {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	ep := episodic.New(pool)
	sem := semantic.New(pool, config.DefaultConfig().Recall)
	eng := New(ep, sem, client, cfg)
	return eng, ep, sem
}

func newTestEngine(t *testing.T, cfg config.ConsolConfig) (*Engine, *episodic.Store, *semantic.Store) {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	ep := episodic.New(pool)
	sem := semantic.New(pool, config.DefaultConfig().Recall)
	eng := New(ep, sem, llm.NewMockClient(), cfg)
	return eng, ep, sem
}

func defaultConsolConfig() config.ConsolConfig {
	return config.ConsolConfig{
		MaxEvents:        1000,
		Sys2Threshold:    0.7,
		ClusterGapS:      300,
		ClusterCosineMin: 0.5,
	}
}

func TestRunPromotesCoherentClusterToSemanticMemory(t *testing.T) {
	eng, ep, sem := newTestEngine(t, defaultConsolConfig())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	_, err := ep.AppendBatch(ctx, []*types.EpisodicEvent{
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build started", Embedding: []float32{1, 0, 0}, Timestamp: base},
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build finished", Embedding: []float32{0.9, 0.1, 0}, Timestamp: base.Add(time.Minute)},
	})
	require.NoError(t, err)

	report, err := eng.Run(ctx, "p1", Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.EventsConsidered)
	assert.Equal(t, 1, report.ClustersFormed)
	assert.Equal(t, 1, report.MemoriesPromoted)
	assert.Equal(t, 0, report.Reverted)

	count, err := sem.Count(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	consolidatedCount, err := ep.Count(ctx, "p1", episodic.Filter{Lifecycle: types.LifecycleConsolidated})
	require.NoError(t, err)
	assert.Equal(t, 2, consolidatedCount)
}

func TestRunSplitsClustersOnTemporalGap(t *testing.T) {
	cfg := defaultConsolConfig()
	cfg.ClusterGapS = 10
	eng, ep, _ := newTestEngine(t, cfg)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	_, err := ep.AppendBatch(ctx, []*types.EpisodicEvent{
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "first", Embedding: []float32{1, 0, 0}, Timestamp: base},
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "second, much later", Embedding: []float32{1, 0, 0}, Timestamp: base.Add(time.Hour)},
	})
	require.NoError(t, err)

	report, err := eng.Run(ctx, "p1", Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ClustersFormed, "events separated by more than cluster_gap_s must form separate clusters")
}

func TestRunIsIdempotentAcrossConsecutiveCalls(t *testing.T) {
	eng, ep, _ := newTestEngine(t, defaultConsolConfig())
	ctx := context.Background()

	_, err := ep.Append(ctx, &types.EpisodicEvent{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "solo event"})
	require.NoError(t, err)

	first, err := eng.Run(ctx, "p1", Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.MemoriesPromoted)

	second, err := eng.Run(ctx, "p1", Params{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.EventsConsidered, "already-consolidated events must not be reconsidered")
}

func TestRunFallsBackToSystem1OnLLMFailure(t *testing.T) {
	cfg := defaultConsolConfig()
	cfg.Sys2Threshold = 1.0 // force escalation even for a coherent cluster
	eng, ep, sem := newTestEngineWithLLM(t, cfg, failingLLM{})
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	_, err := ep.AppendBatch(ctx, []*types.EpisodicEvent{
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build started", Embedding: []float32{1, 0, 0}, Timestamp: base},
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build finished", Embedding: []float32{0.9, 0.1, 0}, Timestamp: base.Add(time.Minute)},
	})
	require.NoError(t, err)

	report, err := eng.Run(ctx, "p1", Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sys2Escalations)
	assert.Equal(t, 1, report.Degraded)
	assert.Equal(t, 1, report.MemoriesPromoted, "a degraded cluster still promotes via the system 1 fallback")
	assert.Equal(t, 0, report.Reverted)

	count, err := sem.Count(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunQualityStrategyAlwaysEscalates(t *testing.T) {
	eng, ep, _ := newTestEngine(t, defaultConsolConfig())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	_, err := ep.AppendBatch(ctx, []*types.EpisodicEvent{
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build started", Embedding: []float32{1, 0, 0}, Timestamp: base},
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "build finished", Embedding: []float32{0.9, 0.1, 0}, Timestamp: base.Add(time.Minute)},
	})
	require.NoError(t, err)

	report, err := eng.Run(ctx, "p1", Params{Strategy: "quality"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sys2Escalations, "quality strategy escalates even a coherent cluster")
}

func TestRunTimeWindowExcludesOlderEvents(t *testing.T) {
	eng, ep, _ := newTestEngine(t, defaultConsolConfig())
	ctx := context.Background()

	_, err := ep.AppendBatch(ctx, []*types.EpisodicEvent{
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "ancient", Timestamp: time.Now().Add(-48 * time.Hour)},
		{ProjectID: "p1", SessionID: "s1", SourceID: "src", EventType: types.EventUserInput, Content: "recent", Timestamp: time.Now()},
	})
	require.NoError(t, err)

	report, err := eng.Run(ctx, "p1", Params{TimeWindow: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 1, report.EventsConsidered, "time_window must exclude events outside the window")
}
