// Package memory implements C16 Manager Facade: the single entry point
// external callers use to remember, recall, forget and consolidate
// memories, wiring together the other components and passing recall
// results and semantic writes through the C14 verification gateway, adapted from
// the teacher's internal/core manager that wires the agent's subsystems
// behind one facade.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/consolidate"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/embedding"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/graph"
	"github.com/athena-core/memory/internal/llm"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/metamemory"
	"github.com/athena-core/memory/internal/observer"
	"github.com/athena-core/memory/internal/procedural"
	"github.com/athena-core/memory/internal/prospective"
	"github.com/athena-core/memory/internal/retrieval"
	"github.com/athena-core/memory/internal/semantic"
	"github.com/athena-core/memory/internal/session"
	"github.com/athena-core/memory/internal/types"
	"github.com/athena-core/memory/internal/verify"
	"github.com/athena-core/memory/internal/workingmem"
)

// Health aggregates the health of every wired component.
type Health struct {
	DB        dbpool.HealthStatus
	Embedding error
	LLM       error
	Observer  observer.Health
}

// Manager is C16 Manager Facade.
type Manager struct {
	pool *dbpool.Pool

	embedder embedding.Engine
	llm      llm.Client

	episodic   *episodic.Store
	semantic   *semantic.Store
	procedural *procedural.Store
	prospective *prospective.Store
	graph      *graph.Store
	meta       *metamemory.Store
	workingmem *workingmem.Store

	planner    *retrieval.Planner
	gateway    *verify.Gateway
	observer   *observer.Observer
	consol     *consolidate.Engine
	sessionCtx *session.Context

	verifyCfg config.VerifyConfig
}

// New wires the components described in spec.md §4.C1-C10, §4.C12-C15 and
// §4.C17 behind the manager facade; the C11 ingestion pipeline is not wired.
func New(cfg *config.Config) (*Manager, error) {
	pool, err := dbpool.Open(cfg.DB, cfg.DB.PoolMax)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embed)
	if err != nil {
		return nil, err
	}
	llmClient, err := llm.New(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	epStore := episodic.New(pool)
	semStore := semantic.New(pool, cfg.Recall)
	procStore := procedural.New(pool)
	prospStore := prospective.New(pool)
	graphStore := graph.New(pool)
	metaStore := metamemory.New(pool, cfg.Meta)
	wmStore := workingmem.New(pool, cfg.WorkingMem)

	planner := retrieval.New(cfg.Recall, semStore, procStore, graphStore, epStore, prospStore, wmStore, metaStore, embedder, llmClient)
	gateway := verify.New(cfg.Verify)
	obs := observer.New(pool, 1000)
	consol := consolidate.New(epStore, semStore, llmClient, cfg.Consol)

	m := &Manager{
		pool: pool, embedder: embedder, llm: llmClient,
		episodic: epStore, semantic: semStore, procedural: procStore, prospective: prospStore,
		graph: graphStore, meta: metaStore, workingmem: wmStore,
		planner: planner, gateway: gateway, observer: obs, consol: consol,
		verifyCfg: cfg.Verify,
	}
	m.sessionCtx = session.New(pool, epStore, wmStore, m)
	return m, nil
}

// Session exposes C17 Session Context so callers can start/end sessions
// through the same facade.
func (m *Manager) Session() *session.Context { return m.sessionCtx }

// Enqueue implements session.ConsolidationQueue: ending a session schedules
// a consolidation run for its project in the background.
func (m *Manager) Enqueue(projectID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.Consolidate(ctx, projectID, consolidate.Params{}); err != nil {
			logging.Get(logging.CategoryConsolidation).Warn("background consolidation for %s failed: %v", projectID, err)
		}
	}()
}

// Remember routes content to the appropriate store per spec.md §4.C16,
// computing an embedding where applicable. Semantic content passes through
// the verification gateway before the write; episodic and procedure writes
// do not go through the gateway.
func (m *Manager) Remember(ctx context.Context, projectID, content, kind string, metadata map[string]interface{}) (string, error) {
	var id string
	var err error
	switch kind {
	case "", "semantic":
		id, err = m.rememberSemantic(ctx, projectID, content, metadata)
	case "episodic":
		id, err = m.rememberEpisodic(ctx, projectID, content, metadata)
	case "procedure":
		id, err = m.rememberProcedure(ctx, projectID, content, metadata)
	default:
		return "", erring.InvalidInput("manager.Remember", fmt.Sprintf("unknown kind %q", kind))
	}

	rec := &types.DecisionRecord{Operation: "remember", GatesRun: []string{"write"}}
	if err != nil {
		rec.Confidence = 0
	} else {
		rec.Confidence = 1
	}
	if _, recErr := m.observer.RecordDecision(ctx, rec); recErr != nil {
		logging.Get(logging.CategoryObserver).Warn("failed to record remember decision: %v", recErr)
	}
	return id, err
}

func (m *Manager) rememberSemantic(ctx context.Context, projectID, content string, metadata map[string]interface{}) (string, error) {
	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return "", err
	}
	mem := &types.SemanticMemory{
		ID:                 uuid.NewString(),
		ProjectID:          projectID,
		Content:            content,
		Embedding:          vec,
		MemoryType:         types.MemoryFact,
		Confidence:         0.8,
		ConsolidationState: types.ConsolidationUnconsolidated,
		LastAccessed:       time.Now().UTC(),
	}
	if mt, ok := metadata["memory_type"].(string); ok && mt != "" {
		mem.MemoryType = types.MemoryType(mt)
	}
	if conf, ok := metadata["confidence"].(float64); ok {
		mem.Confidence = conf
	}
	if provenance, ok := metadata["provenance"].([]string); ok {
		mem.Provenance = provenance
	}

	report, err := m.gateway.Verify(ctx, []retrieval.Candidate{{Kind: "semantic", ID: mem.ID, Score: mem.Confidence, Memory: mem}})
	if err != nil {
		return "", err
	}
	if len(report.Passed) == 0 {
		return "", erring.IntegrityViolation("manager.Remember", "semantic memory rejected by verification gateway")
	}

	if err := m.semantic.Upsert(ctx, mem); err != nil {
		return "", err
	}
	return mem.ID, nil
}

func (m *Manager) rememberEpisodic(ctx context.Context, projectID, content string, metadata map[string]interface{}) (string, error) {
	ev := &types.EpisodicEvent{
		ProjectID:  projectID,
		EventType:  types.EventExternal,
		Content:    content,
		Importance: 0.5,
	}
	if et, ok := metadata["event_type"].(string); ok && et != "" {
		ev.EventType = types.EventType(et)
	}
	if imp, ok := metadata["importance"].(float64); ok {
		ev.Importance = imp
	}
	if sessionID, ok := metadata["session_id"].(string); ok {
		ev.SessionID = sessionID
	}
	if vec, err := m.embedder.Embed(ctx, content); err == nil {
		ev.Embedding = vec
	}
	return m.episodic.Append(ctx, ev)
}

func (m *Manager) rememberProcedure(ctx context.Context, projectID, content string, metadata map[string]interface{}) (string, error) {
	name, _ := metadata["name"].(string)
	if name == "" {
		return "", erring.InvalidInput("manager.Remember", "procedure kind requires metadata.name")
	}
	proc := &types.Procedure{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Description: content,
	}
	if category, ok := metadata["category"].(string); ok {
		proc.Category = category
	}
	if trigger, ok := metadata["trigger_pattern"].(string); ok {
		proc.TriggerPattern = trigger
	}
	if steps, ok := metadata["steps"].([]types.ActionStep); ok {
		proc.Steps = steps
	}
	if err := m.procedural.CreateVersion(ctx, proc); err != nil {
		return "", err
	}
	return proc.ID, nil
}

// Recall delegates to C13's cascading search and runs the result through
// the verification gateway before returning it.
func (m *Manager) Recall(ctx context.Context, projectID, query string, opts retrieval.Options) (*verify.Report, error) {
	var queryEmbedding []float32
	if vec, err := m.embedder.Embed(ctx, query); err == nil {
		queryEmbedding = vec
	}

	candidates, err := m.planner.Search(ctx, projectID, query, queryEmbedding, opts)
	if err != nil {
		return nil, err
	}
	report, err := m.gateway.Verify(ctx, candidates)

	rec := &types.DecisionRecord{Operation: "recall", GatesRun: m.verifyCfg.EnabledGates}
	if err != nil {
		rec.Confidence = 0
	} else {
		rec.Confidence = confidenceOf(report.Passed)
		for _, v := range report.Violations {
			rec.Violations = append(rec.Violations, v.Gate)
		}
	}
	if _, recErr := m.observer.RecordDecision(ctx, rec); recErr != nil {
		logging.Get(logging.CategoryObserver).Warn("failed to record recall decision: %v", recErr)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func confidenceOf(candidates []retrieval.Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	return sum / float64(len(candidates))
}

// Forget marks an episodic event archived, or deletes a semantic memory,
// per spec.md §4.C16: never removing provenance another consolidated
// memory still depends on.
func (m *Manager) Forget(ctx context.Context, kind, id string) error {
	switch kind {
	case "episodic":
		return m.episodic.MarkLifecycle(ctx, []string{id}, types.LifecycleArchived)
	case "semantic":
		return m.forgetSemantic(ctx, id)
	default:
		return erring.InvalidInput("manager.Forget", fmt.Sprintf("unknown kind %q", kind))
	}
}

func (m *Manager) forgetSemantic(ctx context.Context, id string) error {
	mems, err := m.semantic.FetchByIDs(ctx, []string{id})
	if err != nil {
		return err
	}
	if len(mems) == 0 {
		return erring.InvalidInput("manager.Forget", "no semantic memory with that id")
	}
	if mems[0].ConsolidationState == types.ConsolidationConsolidated && len(mems[0].Provenance) > 0 {
		return erring.IntegrityViolation("manager.Forget",
			"consolidated memory still carries provenance; archive provenance events instead of deleting")
	}
	return m.semantic.Delete(ctx, id)
}

// Consolidate runs C12 once for a project, per spec.md §4.C16
// `consolidate(params)`.
func (m *Manager) Consolidate(ctx context.Context, projectID string, params consolidate.Params) (*consolidate.Report, error) {
	return m.consol.Run(ctx, projectID, params)
}

// Health aggregates component health per spec.md §4.C16.
func (m *Manager) Health(ctx context.Context) Health {
	return Health{
		DB:        m.pool.Health(ctx),
		Embedding: m.embedder.Health(ctx),
		LLM:       m.llm.Health(ctx),
		Observer:  m.observer.Health(),
	}
}

// Close releases the underlying connection pool.
func (m *Manager) Close() error {
	return m.pool.Close()
}
