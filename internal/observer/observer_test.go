package observer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/types"
)

func newTestObserver(t *testing.T, ringCap int) *Observer {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return New(pool, ringCap)
}

func TestRecordDecisionFlagsAnomaly(t *testing.T) {
	o := newTestObserver(t, 100)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := o.RecordDecision(ctx, &types.DecisionRecord{Operation: "recall", Confidence: 0.8})
		require.NoError(t, err)
	}

	anomaly, err := o.RecordDecision(ctx, &types.DecisionRecord{Operation: "recall", Confidence: 0.0})
	require.NoError(t, err)
	assert.True(t, anomaly)
}

func TestTrendDetectsImproving(t *testing.T) {
	o := newTestObserver(t, 100)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		conf := 0.1 + float64(i)*0.08
		_, err := o.RecordDecision(ctx, &types.DecisionRecord{Operation: "recall", Confidence: conf})
		require.NoError(t, err)
	}

	assert.Equal(t, TrendImproving, o.Trend())
}

func TestHealthReflectsAnomalyRate(t *testing.T) {
	o := newTestObserver(t, 100)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := o.RecordDecision(ctx, &types.DecisionRecord{Operation: "recall", Confidence: 0.9})
		require.NoError(t, err)
	}

	health := o.Health()
	assert.InDelta(t, 0.9, health.Score, 0.05)
	assert.Equal(t, 0, health.AnomalyCount)
}

func TestRecordOutcomeUpdatesRingBuffer(t *testing.T) {
	o := newTestObserver(t, 100)
	ctx := context.Background()

	rec := &types.DecisionRecord{Operation: "recall", Confidence: 0.7}
	_, err := o.RecordDecision(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, o.RecordOutcome(ctx, rec.ID, "accepted", true))

	o.mu.Lock()
	found := false
	for _, r := range o.ring {
		if r.ID == rec.ID {
			found = true
			require.NotNil(t, r.Outcome)
			assert.Equal(t, "accepted", *r.Outcome)
		}
	}
	o.mu.Unlock()
	assert.True(t, found)
}
