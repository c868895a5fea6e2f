// Package retrieval implements C13 Retrieval Planner: query expansion with
// a deduplicated, cached LLM call, and a three-tier cascading search across
// memory layers, adapted from the teacher's internal/retrieval tiered
// context-assembly pattern.
package retrieval

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/embedding"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/graph"
	"github.com/athena-core/memory/internal/llm"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/metamemory"
	"github.com/athena-core/memory/internal/procedural"
	"github.com/athena-core/memory/internal/prospective"
	"github.com/athena-core/memory/internal/semantic"
	"github.com/athena-core/memory/internal/types"
	"github.com/athena-core/memory/internal/workingmem"
)

// Candidate is one merged, deduplicated result from the cascade.
type Candidate struct {
	Kind   string // "semantic", "procedure", "episodic", "entity", "task", "working_memory"
	ID     string
	Score  float64
	Memory *types.SemanticMemory `json:"-"`
}

// Options overrides one Search invocation's defaults, per spec.md §4.C13's
// recall(query, options) contract. A zero Options behaves exactly like the
// Planner's configured defaults.
type Options struct {
	K              int
	MinSimilarity  float64
	CascadeDepth   int // 1, 2 or 3; 0 lets the normal sufficiency checks decide
	Layers         []string
	SessionContext string
	ExpandQueries  *bool // nil defers to cfg.ExpandQueries
	Rerank         bool
}

// Planner is C13 Retrieval Planner.
type Planner struct {
	cfg         config.RecallConfig
	semantic    *semantic.Store
	procedural  *procedural.Store
	graph       *graph.Store
	episodic    *episodic.Store
	prospective *prospective.Store
	workingmem  *workingmem.Store
	meta        *metamemory.Store
	embedder    embedding.Engine
	llmClient   llm.Client

	expandCache *lru.LRU[string, []string]
	group       singleflight.Group
}

// New constructs a retrieval Planner wired to every searchable store.
func New(cfg config.RecallConfig, sem *semantic.Store, proc *procedural.Store, gr *graph.Store,
	ep *episodic.Store, prosp *prospective.Store, wm *workingmem.Store, meta *metamemory.Store,
	embedder embedding.Engine, llmClient llm.Client) *Planner {

	cache := lru.NewLRU[string, []string](cfg.ExpandCacheSize, nil, time.Duration(cfg.ExpandCacheTTLS)*time.Second)
	return &Planner{
		cfg: cfg, semantic: sem, procedural: proc, graph: gr, episodic: ep,
		prospective: prosp, workingmem: wm, meta: meta,
		embedder: embedder, llmClient: llmClient, expandCache: cache,
	}
}

// ExpandQuery returns the original query plus LLM-suggested paraphrases,
// collapsing concurrent identical expansions via singleflight and caching
// the result for expand_cache_ttl_s.
func (p *Planner) ExpandQuery(ctx context.Context, query string) ([]string, error) {
	if !p.cfg.ExpandQueries || p.llmClient == nil {
		return []string{query}, nil
	}
	if cached, ok := p.expandCache.Get(query); ok {
		return cached, nil
	}

	v, err, _ := p.group.Do(query, func() (interface{}, error) {
		prompt := "Give up to two short alternative phrasings of this search query, one per line: " + query
		text, err := p.llmClient.Generate(ctx, prompt, 128)
		if err != nil {
			return []string{query}, nil
		}
		variants := append([]string{query}, splitLines(text)...)
		return variants, nil
	})
	if err != nil {
		return []string{query}, nil
	}
	variants := v.([]string)
	p.expandCache.Add(query, variants)
	return variants, nil
}

func splitLines(text string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			if i > start {
				line := text[start:i]
				out = append(out, line)
			}
			start = i + 1
		}
	}
	if len(out) > 2 {
		out = out[:2]
	}
	return out
}

// Search runs the three-tier cascade of spec.md §4.C13: Tier 1 (semantic and
// prospective, tier1_timeout_ms) returns immediately once it has k results;
// otherwise Tier 2 widens to procedural and working memory
// (tier2_timeout_ms; the graph contributes no candidates); Tier 3 adds episodic temporal recall
// (tier3_timeout_ms). options.cascade_depth forces the cascade to stop
// after, or always reach, a given tier regardless of result sufficiency.
// Results are merged, deduped by (kind, id), reweighted by meta-memory
// attention, and optionally LLM-reranked.
func (p *Planner) Search(ctx context.Context, projectID, query string, queryEmbedding []float32, opts Options) ([]Candidate, error) {
	k := opts.K
	if k <= 0 {
		k = p.cfg.KDefault
	}
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = p.cfg.MinSimilarity
	}
	depth := opts.CascadeDepth

	effectiveQuery := query
	if opts.SessionContext != "" {
		effectiveQuery = opts.SessionContext + "\n" + query
	}

	expand := p.cfg.ExpandQueries
	if opts.ExpandQueries != nil {
		expand = *opts.ExpandQueries
	}
	queries := []string{effectiveQuery}
	if expand {
		if variants, err := p.ExpandQuery(ctx, effectiveQuery); err == nil {
			queries = variants
		}
	}

	tier1Ctx, cancel1 := context.WithTimeout(ctx, time.Duration(p.cfg.Tier1TimeoutMS)*time.Millisecond)
	candidates, err := p.searchTier1(tier1Ctx, projectID, queries, queryEmbedding, k, minSim, opts.Layers)
	cancel1()
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("tier1 search error: %v", err)
	}
	if depth == 1 || (depth < 3 && len(candidates) >= k) {
		return p.finalize(ctx, candidates, opts.Rerank), nil
	}

	tier2Ctx, cancel2 := context.WithTimeout(ctx, time.Duration(p.cfg.Tier2TimeoutMS)*time.Millisecond)
	more, err := p.searchTier2(tier2Ctx, projectID, effectiveQuery, opts.Layers)
	cancel2()
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("tier2 search error: %v", err)
	}
	candidates = mergeDedup(candidates, more)
	if depth == 2 || (depth < 3 && len(candidates) >= k) {
		return p.finalize(ctx, candidates, opts.Rerank), nil
	}

	tier3Ctx, cancel3 := context.WithTimeout(ctx, time.Duration(p.cfg.Tier3TimeoutMS)*time.Millisecond)
	more, err = p.searchTier3(tier3Ctx, projectID, k, opts.Layers)
	cancel3()
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("tier3 search error: %v", err)
	}
	candidates = mergeDedup(candidates, more)

	return p.finalize(ctx, candidates, opts.Rerank), nil
}

func (p *Planner) searchTier1(ctx context.Context, projectID string, queries []string, queryEmbedding []float32, k int, minSim float64, layers []string) ([]Candidate, error) {
	var out []Candidate

	if layerEnabled(layers, "semantic") {
		seen := map[string]bool{}
		for _, q := range queries {
			results, err := p.semantic.Search(ctx, projectID, q, queryEmbedding, semantic.SearchParams{K: k, MinSimilarity: minSim})
			if err != nil {
				return out, err
			}
			for _, r := range results {
				if seen[r.Memory.ID] {
					continue
				}
				seen[r.Memory.ID] = true
				out = append(out, Candidate{Kind: "semantic", ID: r.Memory.ID, Score: r.Score, Memory: r.Memory})
			}
		}
	}

	if layerEnabled(layers, "task") && p.prospective != nil {
		tasks, err := p.prospective.ListReady(ctx, projectID)
		if err != nil {
			return out, err
		}
		for _, t := range tasks {
			out = append(out, Candidate{Kind: "task", ID: t.ID, Score: taskScore(t)})
		}
	}

	return out, nil
}

func (p *Planner) searchTier2(ctx context.Context, projectID, query string, layers []string) ([]Candidate, error) {
	var procs []*types.Procedure
	var items []*types.WorkingMemoryItem

	g, gctx := errgroup.WithContext(ctx)
	if layerEnabled(layers, "procedure") {
		g.Go(func() error {
			var err error
			procs, err = p.procedural.MatchTriggers(gctx, projectID, query)
			return err
		})
	}
	if layerEnabled(layers, "working_memory") && p.workingmem != nil {
		g.Go(func() error {
			var err error
			items, err = p.workingmem.List(gctx, projectID)
			return err
		})
	}
	g.Go(func() error {
		// graph search has no free-text entry point here, and no tier
		// expands a graph neighborhood, so the graph adds no candidates.
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, proc := range procs {
		out = append(out, Candidate{Kind: "procedure", ID: proc.ID, Score: proc.Effectiveness})
	}
	for _, item := range items {
		out = append(out, Candidate{Kind: "working_memory", ID: item.ID, Score: item.Activation})
	}
	return out, nil
}

func (p *Planner) searchTier3(ctx context.Context, projectID string, k int, layers []string) ([]Candidate, error) {
	if !layerEnabled(layers, "episodic") {
		return nil, nil
	}
	events, err := p.episodic.RecallTemporal(ctx, projectID, 24*time.Hour, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(events))
	for i, ev := range events {
		out[i] = Candidate{Kind: "episodic", ID: ev.ID, Score: ev.Importance}
	}
	return out, nil
}

// taskScore blends a ready task's urgency (priority 1 outranks priority 10)
// with its progress, so a far-along task surfaces ahead of a freshly
// created one of equal priority.
func taskScore(t *types.Task) float64 {
	urgency := float64(11-t.Priority) / 10.0
	if urgency < 0 {
		urgency = 0
	}
	return urgency*0.6 + t.Progress*0.4
}

func layerEnabled(layers []string, kind string) bool {
	if len(layers) == 0 {
		return true
	}
	for _, l := range layers {
		if l == kind {
			return true
		}
	}
	return false
}

func mergeDedup(a, b []Candidate) []Candidate {
	seen := map[string]bool{}
	var out []Candidate
	for _, c := range append(append([]Candidate{}, a...), b...) {
		key := c.Kind + ":" + c.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// finalize reweights candidates by their meta-memory attention weight (if
// any is recorded), optionally reranks the top results with the LLM
// client, and truncates to global_cap.
func (p *Planner) finalize(ctx context.Context, candidates []Candidate, rerank bool) []Candidate {
	for i, c := range candidates {
		kind := types.SubjectSemantic
		switch c.Kind {
		case "procedure":
			kind = types.SubjectProcedure
		case "entity":
			kind = types.SubjectEntity
		case "episodic":
			kind = types.SubjectEvent
		}
		if rec, err := p.meta.Get(ctx, kind, c.ID); err == nil {
			candidates[i].Score = c.Score * (0.5 + 0.5*rec.AttentionWeight)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	if rerank && p.llmClient != nil {
		p.rerankTop(ctx, candidates)
	}

	if p.cfg.GlobalCap > 0 && len(candidates) > p.cfg.GlobalCap {
		candidates = candidates[:p.cfg.GlobalCap]
	}
	return candidates
}

// rerankTop blends each of the top 20 candidates' score with an LLM
// relevance score over its content, in place, and re-sorts. Candidates with
// no textual content (everything but semantic memories, today) are left at
// their existing score.
func (p *Planner) rerankTop(ctx context.Context, candidates []Candidate) {
	n := len(candidates)
	if n > 20 {
		n = 20
	}
	for i := 0; i < n; i++ {
		c := candidates[i]
		if c.Memory == nil || c.Memory.Content == "" {
			continue
		}
		score, err := p.llmClient.Score(ctx, c.Memory.Content)
		if err != nil {
			continue
		}
		candidates[i].Score = c.Score*0.5 + score*0.5
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
}
