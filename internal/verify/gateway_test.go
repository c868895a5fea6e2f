package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/retrieval"
	"github.com/athena-core/memory/internal/types"
)

func defaultGateway() *Gateway {
	cfg := config.DefaultConfig().Verify
	return New(cfg)
}

func TestVerifyDropsLowConfidenceCandidates(t *testing.T) {
	g := defaultGateway()
	candidates := []retrieval.Candidate{
		{Kind: "semantic", ID: "low", Memory: &types.SemanticMemory{Confidence: 0.01, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
		{Kind: "semantic", ID: "high", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
	}
	report, err := g.Verify(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, report.Passed, 1)
	assert.Equal(t, "high", report.Passed[0].ID)
}

func TestVerifyDropsUngroundedConsolidatedMemory(t *testing.T) {
	g := defaultGateway()
	candidates := []retrieval.Candidate{
		{Kind: "semantic", ID: "ungrounded", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), ConsolidationState: types.ConsolidationConsolidated}},
	}
	report, err := g.Verify(context.Background(), candidates)
	require.NoError(t, err)
	assert.Empty(t, report.Passed)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "grounding", report.Violations[0].Gate)
}

func TestVerifyAllowsUngroundedUnconsolidatedMemory(t *testing.T) {
	g := defaultGateway()
	candidates := []retrieval.Candidate{
		{Kind: "semantic", ID: "fresh", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now()}},
	}
	report, err := g.Verify(context.Background(), candidates)
	require.NoError(t, err)
	require.Len(t, report.Passed, 1)
	assert.Empty(t, report.Violations)
}

func TestVerifyRejectsCardinalityOverflow(t *testing.T) {
	cfg := config.DefaultConfig().Verify
	cfg.MaxBatchSize = 1
	g := New(cfg)
	candidates := []retrieval.Candidate{
		{Kind: "semantic", ID: "a", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
		{Kind: "semantic", ID: "b", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
	}
	_, err := g.Verify(context.Background(), candidates)
	require.Error(t, err)
}

func TestVerifyQuotaTruncatesToGlobalCap(t *testing.T) {
	cfg := config.DefaultConfig().Verify
	cfg.GlobalResultCap = 1
	g := New(cfg)
	candidates := []retrieval.Candidate{
		{Kind: "semantic", ID: "a", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
		{Kind: "semantic", ID: "b", Memory: &types.SemanticMemory{Confidence: 0.9, LastAccessed: time.Now(), Provenance: []string{"e1"}}},
	}
	report, err := g.Verify(context.Background(), candidates)
	require.NoError(t, err)
	assert.Len(t, report.Passed, 1)
}
