// Package consolidate implements C12 Consolidation Engine: a dual-process
// (System 1 fast clustering, System 2 LLM validation) pipeline that
// compresses episodic events into semantic memories, adapted from the
// teacher's internal/core task-compaction pattern.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/llm"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/semantic"
	"github.com/athena-core/memory/internal/types"
)

// Cluster is a System-1-grouped set of episodic events headed for
// promotion to a single semantic memory.
type Cluster struct {
	Events    []*types.EpisodicEvent
	Coherence float64 // mean pairwise cosine similarity within the cluster
}

// Report summarizes one Run invocation.
type Report struct {
	EventsConsidered int
	ClustersFormed   int
	MemoriesPromoted int
	Sys2Escalations  int
	Reverted         int
	Degraded         int
}

// Params overrides one Run invocation's {max_events, time_window, strategy}
// per spec.md §4.C12; a zero field falls back to the Engine's ConsolConfig.
type Params struct {
	MaxEvents  int
	TimeWindow time.Duration
	Strategy   string // speed, balanced, quality
}

// Engine is C12 Consolidation Engine.
type Engine struct {
	episodic *episodic.Store
	semantic *semantic.Store
	llm      llm.Client
	cfg      config.ConsolConfig
}

// New constructs a consolidation Engine.
func New(ep *episodic.Store, sem *semantic.Store, llmClient llm.Client, cfg config.ConsolConfig) *Engine {
	return &Engine{episodic: ep, semantic: sem, llm: llmClient, cfg: cfg}
}

// Run consolidates up to max_events active events within time_window for a
// project, compressing according to strategy. Idempotent: a second
// concurrent Run over the same project sees no active events once the
// first Run has claimed them via the active->consolidating lifecycle
// transition.
func (e *Engine) Run(ctx context.Context, projectID string, params Params) (*Report, error) {
	maxEvents := params.MaxEvents
	if maxEvents <= 0 {
		maxEvents = e.cfg.MaxEvents
	}
	window := params.TimeWindow
	if window <= 0 && e.cfg.WindowS > 0 {
		window = time.Duration(e.cfg.WindowS) * time.Second
	}
	strategy := params.Strategy
	if strategy == "" {
		strategy = e.cfg.Strategy
	}
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}

	events, err := e.episodic.List(ctx, projectID, episodic.Filter{Lifecycle: types.LifecycleActive, Since: since}, maxEvents, 0)
	if err != nil {
		return nil, err
	}
	report := &Report{EventsConsidered: len(events)}
	if len(events) == 0 {
		return report, nil
	}

	ids := idsOf(events)
	if err := e.episodic.MarkLifecycle(ctx, ids, types.LifecycleConsolidating); err != nil {
		return nil, err
	}

	clusters := e.clusterSystem1(events)
	report.ClustersFormed = len(clusters)

	var succeeded, failed []*types.EpisodicEvent
	for _, cluster := range clusters {
		if err := e.promote(ctx, projectID, cluster, report, strategy); err != nil {
			logging.Get(logging.CategoryConsolidation).Error("cluster promotion failed: %v", err)
			failed = append(failed, cluster.Events...)
			continue
		}
		succeeded = append(succeeded, cluster.Events...)
	}

	if len(succeeded) > 0 {
		if err := e.episodic.MarkLifecycle(ctx, idsOf(succeeded), types.LifecycleConsolidated); err != nil {
			return report, err
		}
	}
	if len(failed) > 0 {
		// failure-policy: revert to active so a later Run retries these events.
		if err := e.revertToActive(ctx, idsOf(failed)); err != nil {
			return report, err
		}
		report.Reverted = len(failed)
	}

	logging.Get(logging.CategoryConsolidation).Info(
		"consolidation run for %s: %d events, %d clusters, %d promoted, %d reverted",
		projectID, report.EventsConsidered, report.ClustersFormed, report.MemoriesPromoted, report.Reverted)
	return report, nil
}

// revertToActive moves events directly from consolidating back to active.
// This is not on the forward-only path the store enforces for callers, so
// it bypasses MarkLifecycle's transition table intentionally: consolidation
// failure is the one documented exception to forward-only lifecycle,
// matching spec.md's failure-policy reversion requirement.
func (e *Engine) revertToActive(ctx context.Context, ids []string) error {
	for _, id := range ids {
		ev, err := e.episodic.Get(ctx, id)
		if err != nil {
			return err
		}
		if ev.Lifecycle != types.LifecycleConsolidating {
			continue
		}
		if err := e.episodic.ForceLifecycle(ctx, id, types.LifecycleActive); err != nil {
			return err
		}
	}
	return nil
}

// clusterSystem1 groups events by (session_id, source_id), splitting a
// group into sub-clusters whenever the temporal gap to the prior event
// exceeds cluster_gap_s or its embedding cosine similarity to the
// cluster's running centroid falls below cluster_cosine_min.
func (e *Engine) clusterSystem1(events []*types.EpisodicEvent) []*Cluster {
	groups := map[string][]*types.EpisodicEvent{}
	for _, ev := range events {
		key := ev.SessionID + "\x00" + ev.SourceID
		groups[key] = append(groups[key], ev)
	}

	var clusters []*Cluster
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		group := groups[k]
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })

		var current []*types.EpisodicEvent
		var centroid []float32
		flush := func() {
			if len(current) == 0 {
				return
			}
			clusters = append(clusters, &Cluster{Events: current, Coherence: coherence(current)})
			current = nil
			centroid = nil
		}

		for _, ev := range group {
			if len(current) == 0 {
				current = append(current, ev)
				centroid = ev.Embedding
				continue
			}
			last := current[len(current)-1]
			gap := ev.Timestamp.Sub(last.Timestamp)
			sim := dbpool.CosineSimilarity(centroid, ev.Embedding)
			if gap > time.Duration(e.cfg.ClusterGapS)*time.Second || (len(centroid) > 0 && len(ev.Embedding) > 0 && sim < e.cfg.ClusterCosineMin) {
				flush()
				current = append(current, ev)
				centroid = ev.Embedding
				continue
			}
			current = append(current, ev)
			centroid = averageEmbedding(centroid, ev.Embedding, len(current))
		}
		flush()
	}
	return clusters
}

func coherence(events []*types.EpisodicEvent) float64 {
	if len(events) < 2 {
		return 1.0
	}
	var sum float64
	var n int
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			if len(events[i].Embedding) == 0 || len(events[j].Embedding) == 0 {
				continue
			}
			sum += dbpool.CosineSimilarity(events[i].Embedding, events[j].Embedding)
			n++
		}
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

func averageEmbedding(centroid, next []float32, n int) []float32 {
	if len(centroid) == 0 {
		return next
	}
	if len(next) == 0 || len(centroid) != len(next) {
		return centroid
	}
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = centroid[i] + (next[i]-centroid[i])/float32(n)
	}
	return out
}

// promote compresses a cluster into one semantic memory. Clusters below
// sys2_threshold coherence, or any cluster when strategy is "quality", are
// escalated to the LLM client (System 2) for validation/compression;
// everything else is compressed with a plain System 1 concatenation.
func (e *Engine) promote(ctx context.Context, projectID string, cluster *Cluster, report *Report, strategy string) error {
	summary, degraded := e.compress(ctx, cluster, report, strategy)

	provenance := make([]string, len(cluster.Events))
	for i, ev := range cluster.Events {
		provenance[i] = ev.ID
	}

	confidence := cluster.Coherence
	if degraded {
		// System 2 validation was attempted and failed; the System 1 output
		// stood in, so trust it less until a later run can retry.
		confidence *= 0.8
	}

	mem := &types.SemanticMemory{
		ProjectID:          projectID,
		Content:            summary,
		Embedding:          clusterCentroid(cluster.Events),
		MemoryType:         types.MemoryFact,
		Provenance:         provenance,
		Confidence:         confidence,
		ConsolidationState: types.ConsolidationConsolidated,
	}
	if err := e.semantic.Upsert(ctx, mem); err != nil {
		return err
	}
	report.MemoriesPromoted++
	return nil
}

// compress produces the cluster's summary and reports whether it is
// degraded: System 2 was warranted but the LLM call failed, so the System 1
// summary was used in its place per spec.md §4.C12 step 4.
func (e *Engine) compress(ctx context.Context, cluster *Cluster, report *Report, strategy string) (string, bool) {
	escalate := cluster.Coherence < e.cfg.Sys2Threshold || strategy == "quality"
	if !escalate || e.llm == nil {
		return system1Summary(cluster.Events), false
	}

	report.Sys2Escalations++
	prompt := fmt.Sprintf("Summarize the following related events into one factual statement:\n%s",
		system1Summary(cluster.Events))
	text, err := e.llm.Generate(ctx, prompt, 256)
	if err != nil {
		logging.Get(logging.CategoryConsolidation).Warn("system 2 validation failed, falling back to system 1 summary: %v", err)
		report.Degraded++
		return system1Summary(cluster.Events), true
	}
	return text, false
}

func system1Summary(events []*types.EpisodicEvent) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = ev.Content
	}
	return strings.Join(parts, "; ")
}

func clusterCentroid(events []*types.EpisodicEvent) []float32 {
	var centroid []float32
	n := 0
	for _, ev := range events {
		if len(ev.Embedding) == 0 {
			continue
		}
		n++
		centroid = averageEmbedding(centroid, ev.Embedding, n)
	}
	return centroid
}

func idsOf(events []*types.EpisodicEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
