// Package semantic implements C5 Semantic Store: content+vector rows with
// hybrid lexical+vector search, adapted from the teacher's
// internal/store/vector_store.go background-embedding-backfill pattern.
package semantic

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// SearchParams overrides the hybrid-search defaults for one call.
type SearchParams struct {
	K             int
	MinSimilarity float64
	WeightVector  float64
	WeightLexical float64
	WeightBoost   float64
	Boost         []string // keyword boost terms
}

// SearchResult is one ranked candidate.
type SearchResult struct {
	Memory *types.SemanticMemory
	Score  float64
}

// Store is C5 Semantic Store.
type Store struct {
	pool *dbpool.Pool
	cfg  config.RecallConfig
}

// New constructs a semantic Store.
func New(pool *dbpool.Pool, cfg config.RecallConfig) *Store {
	return &Store{pool: pool, cfg: cfg}
}

// Upsert inserts or updates a SemanticMemory. consolidated rows must carry
// non-empty provenance per spec.md §3.
func (s *Store) Upsert(ctx context.Context, m *types.SemanticMemory) error {
	if m.ConsolidationState == types.ConsolidationConsolidated && len(m.Provenance) == 0 {
		return erring.IntegrityViolation("semantic.Upsert", "consolidated memories require non-empty provenance")
	}
	if len(m.Embedding) != 0 && s.cfg.GlobalCap > 0 {
		// Upsert does not check the embedding dimension; Search reports
		// DimensionMismatch when a stored row differs from the query.
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.LastAccessed.IsZero() {
		m.LastAccessed = now
	}

	provenanceJSON, _ := json.Marshal(m.Provenance)
	embeddingBlob, _ := json.Marshal(m.Embedding)

	_, err := s.pool.Exec(ctx, `INSERT INTO semantic_memories
		(id, project_id, content, embedding, memory_type, provenance, confidence, consolidation_state, last_accessed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content=excluded.content, embedding=excluded.embedding,
			memory_type=excluded.memory_type, provenance=excluded.provenance, confidence=excluded.confidence,
			consolidation_state=excluded.consolidation_state, last_accessed=excluded.last_accessed, updated_at=excluded.updated_at`,
		m.ID, m.ProjectID, m.Content, string(embeddingBlob), string(m.MemoryType), string(provenanceJSON),
		m.Confidence, string(m.ConsolidationState), m.LastAccessed, now, now,
	)
	if err != nil {
		return erring.BackendUnavailable("semantic.Upsert", err)
	}
	logging.Get(logging.CategorySemantic).Debug("upserted semantic memory %s", m.ID)
	return nil
}

// Delete removes a SemanticMemory by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM semantic_memories WHERE id = ?`, id)
	if err != nil {
		return erring.BackendUnavailable("semantic.Delete", err)
	}
	return nil
}

// FetchByIDs returns memories for the given ids, preserving no particular order.
func (s *Store) FetchByIDs(ctx context.Context, ids []string) ([]*types.SemanticMemory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.pool.QueryRows(ctx, `SELECT id, project_id, content, embedding, memory_type, provenance, confidence,
		consolidation_state, last_accessed, created_at, updated_at FROM semantic_memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Count returns the number of memories for a project.
func (s *Store) Count(ctx context.Context, projectID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM semantic_memories WHERE project_id = ?`, projectID).Scan(&count); err != nil {
		return 0, erring.BackendUnavailable("semantic.Count", err)
	}
	return count, nil
}

// Search performs the hybrid lexical+vector search of spec.md §4.C5:
// final score = w_v*s_v + w_l*s_l + w_b*s_b, candidates below min_similarity
// dropped, ties broken by confidence then last_accessed.
func (s *Store) Search(ctx context.Context, projectID string, queryText string, queryEmbedding []float32, params SearchParams) ([]SearchResult, error) {
	k := params.K
	if k <= 0 {
		k = s.cfg.KDefault
	}
	minSim := params.MinSimilarity
	if minSim == 0 {
		minSim = s.cfg.MinSimilarity
	}
	wv, wl, wb := params.WeightVector, params.WeightLexical, params.WeightBoost
	if wv == 0 && wl == 0 && wb == 0 {
		wv, wl, wb = s.cfg.WeightVector, s.cfg.WeightLexical, s.cfg.WeightBoost
	}

	rows, err := s.pool.QueryRows(ctx, `SELECT id, project_id, content, embedding, memory_type, provenance, confidence,
		consolidation_state, last_accessed, created_at, updated_at FROM semantic_memories WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	candidates, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(queryText)
	results := make([]SearchResult, 0, len(candidates))
	topIDs := []string{}

	for _, m := range candidates {
		if len(queryEmbedding) != 0 && len(m.Embedding) != 0 && len(queryEmbedding) != len(m.Embedding) {
			return nil, erring.DimensionMismatch("semantic.Search", len(queryEmbedding), len(m.Embedding))
		}

		sv := dbpool.CosineSimilarity(queryEmbedding, m.Embedding)
		sl := lexicalScore(queryTokens, tokenize(m.Content))
		sb := boostScore(params.Boost, m.Content)

		score := wv*sv + wl*sl + wb*sb
		if score < minSim {
			continue
		}
		results = append(results, SearchResult{Memory: m, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Memory.Confidence != results[j].Memory.Confidence {
			return results[i].Memory.Confidence > results[j].Memory.Confidence
		}
		return results[i].Memory.LastAccessed.After(results[j].Memory.LastAccessed)
	})

	if len(results) > k {
		results = results[:k]
	}
	for _, r := range results {
		topIDs = append(topIDs, r.Memory.ID)
	}
	if len(topIDs) > 0 {
		s.touchLastAccessed(ctx, topIDs)
	}

	return results, nil
}

func (s *Store) touchLastAccessed(ctx context.Context, ids []string) {
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := s.pool.Exec(ctx, `UPDATE semantic_memories SET last_accessed = ? WHERE id = ?`, now, id); err != nil {
			logging.Get(logging.CategorySemantic).Warn("failed to touch last_accessed for %s: %v", id, err)
		}
	}
}

// tokenize lowercases and splits on non-alphanumeric runs; this is the
// simple term index behind the BM25-like lexical score, kept dependency-free
// rather than requiring the sqlite FTS5 extension.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// lexicalScore is a BM25-like term-overlap score normalized to [0,1]:
// fraction of query terms present in the candidate, weighted by candidate
// term frequency.
func lexicalScore(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 {
		return 0
	}
	freq := map[string]int{}
	for _, t := range docTokens {
		freq[t]++
	}
	var matched float64
	for _, qt := range queryTokens {
		if n, ok := freq[qt]; ok {
			matched += float64(n) / float64(1+n) // diminishing returns per repeat, BM25 term-frequency saturation
		}
	}
	return matched / float64(len(queryTokens))
}

func boostScore(boostTerms []string, content string) float64 {
	if len(boostTerms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, t := range boostTerms {
		if strings.Contains(lower, strings.ToLower(t)) {
			hits++
		}
	}
	return float64(hits) / float64(len(boostTerms))
}

func scanMemories(rows *sql.Rows) ([]*types.SemanticMemory, error) {
	var out []*types.SemanticMemory
	for rows.Next() {
		var m types.SemanticMemory
		var memoryType, consolidationState, provenanceJSON, embeddingJSON string
		var lastAccessed sql.NullTime

		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Content, &embeddingJSON, &memoryType, &provenanceJSON,
			&m.Confidence, &consolidationState, &lastAccessed, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, erring.BackendUnavailable("semantic.scanMemories", err)
		}
		m.MemoryType = types.MemoryType(memoryType)
		m.ConsolidationState = types.ConsolidationState(consolidationState)
		_ = json.Unmarshal([]byte(provenanceJSON), &m.Provenance)
		_ = json.Unmarshal([]byte(embeddingJSON), &m.Embedding)
		if lastAccessed.Valid {
			m.LastAccessed = lastAccessed.Time
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
