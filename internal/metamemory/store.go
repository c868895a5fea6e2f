// Package metamemory implements C9 Meta-Memory Store: per-item quality
// tracking with exponential decay and a bounded attention budget, adapted
// from the teacher's activation-tracking bookkeeping in
// internal/context/activation.go.
package metamemory

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/types"
)

// Store is C9 Meta-Memory Store.
type Store struct {
	pool *dbpool.Pool
	cfg  config.MetaConfig
}

// New constructs a metamemory Store.
func New(pool *dbpool.Pool, cfg config.MetaConfig) *Store {
	return &Store{pool: pool, cfg: cfg}
}

// Record upserts a MetaRecord for a subject, clamping attention_weight to
// [0, attention_budget_max].
func (s *Store) Record(ctx context.Context, m *types.MetaRecord) error {
	if m.AttentionWeight < 0 {
		m.AttentionWeight = 0
	}
	if m.AttentionWeight > s.cfg.AttentionBudgetMax {
		m.AttentionWeight = s.cfg.AttentionBudgetMax
	}
	if m.LastEvaluated.IsZero() {
		m.LastEvaluated = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `INSERT INTO meta_records
		(subject_kind, subject_id, project_id, compression, recall, consistency, attention_weight, last_evaluated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_kind, subject_id) DO UPDATE SET compression=excluded.compression,
			recall=excluded.recall, consistency=excluded.consistency, attention_weight=excluded.attention_weight,
			last_evaluated=excluded.last_evaluated`,
		string(m.SubjectKind), m.SubjectID, m.ProjectID, m.Quality.Compression, m.Quality.Recall,
		m.Quality.Consistency, m.AttentionWeight, m.LastEvaluated)
	if err != nil {
		return erring.BackendUnavailable("metamemory.Record", err)
	}
	return nil
}

// Get fetches a MetaRecord, applying exponential decay to its quality
// metrics as of now: quality(t) = quality(t0) * 0.5^(elapsed_days / half_life).
func (s *Store) Get(ctx context.Context, subjectKind types.SubjectKind, subjectID string) (*types.MetaRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT subject_kind, subject_id, project_id, compression, recall, consistency,
		attention_weight, last_evaluated FROM meta_records WHERE subject_kind = ? AND subject_id = ?`,
		string(subjectKind), subjectID)

	var m types.MetaRecord
	var kind string
	var lastEvaluated sql.NullTime
	if err := row.Scan(&kind, &m.SubjectID, &m.ProjectID, &m.Quality.Compression, &m.Quality.Recall,
		&m.Quality.Consistency, &m.AttentionWeight, &lastEvaluated); err != nil {
		if err == sql.ErrNoRows {
			return nil, erring.InvalidInput("metamemory.Get", "no meta record for that subject")
		}
		return nil, erring.BackendUnavailable("metamemory.Get", err)
	}
	m.SubjectKind = types.SubjectKind(kind)
	if lastEvaluated.Valid {
		m.LastEvaluated = lastEvaluated.Time
	}

	s.decay(&m)
	return &m, nil
}

func (s *Store) decay(m *types.MetaRecord) {
	if m.LastEvaluated.IsZero() || s.cfg.QualityHalfLifeDays <= 0 {
		return
	}
	elapsedDays := time.Since(m.LastEvaluated).Hours() / 24
	factor := math.Pow(0.5, elapsedDays/s.cfg.QualityHalfLifeDays)
	m.Quality.Compression *= factor
	m.Quality.Recall *= factor
	m.Quality.Consistency *= factor
}

// TopByAttention returns the N subjects with the highest stored
// attention_weight for a project (only the quality metrics are decayed),
// used by C13 Retrieval Planner to weight
// tier cascades.
func (s *Store) TopByAttention(ctx context.Context, projectID string, n int) ([]*types.MetaRecord, error) {
	rows, err := s.pool.QueryRows(ctx, `SELECT subject_kind, subject_id, project_id, compression, recall, consistency,
		attention_weight, last_evaluated FROM meta_records WHERE project_id = ? ORDER BY attention_weight DESC LIMIT ?`,
		projectID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.MetaRecord
	for rows.Next() {
		var m types.MetaRecord
		var kind string
		var lastEvaluated sql.NullTime
		if err := rows.Scan(&kind, &m.SubjectID, &m.ProjectID, &m.Quality.Compression, &m.Quality.Recall,
			&m.Quality.Consistency, &m.AttentionWeight, &lastEvaluated); err != nil {
			return nil, erring.BackendUnavailable("metamemory.TopByAttention", err)
		}
		m.SubjectKind = types.SubjectKind(kind)
		if lastEvaluated.Valid {
			m.LastEvaluated = lastEvaluated.Time
		}
		s.decay(&m)
		out = append(out, &m)
	}
	return out, rows.Err()
}
