// Package procedural implements C6 Procedural Store: versioned, reusable
// workflows with Beta-smoothed effectiveness, adapted from the teacher's
// internal/store procedure-versioning pattern.
package procedural

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// Store is C6 Procedural Store.
type Store struct {
	pool *dbpool.Pool
}

// New constructs a procedural Store.
func New(pool *dbpool.Pool) *Store { return &Store{pool: pool} }

// CreateVersion inserts a new Procedure version. Prior versions of the same
// (project_id, name) are never mutated; version numbers increase
// monotonically starting at 1.
func (s *Store) CreateVersion(ctx context.Context, p *types.Procedure) error {
	var maxVersion sql.NullInt64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(version) FROM procedures WHERE project_id = ? AND name = ?`,
		p.ProjectID, p.Name).Scan(&maxVersion); err != nil {
		return erring.BackendUnavailable("procedural.CreateVersion", err)
	}
	p.Version = int(maxVersion.Int64) + 1

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stepsJSON, _ := json.Marshal(p.Steps)
	p.Effectiveness = initialEffectiveness()

	_, err := s.pool.Exec(ctx, `INSERT INTO procedures
		(id, project_id, name, description, category, version, steps, trigger_pattern,
		 execution_count, success_count, last_executed, effectiveness, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Name, p.Description, p.Category, p.Version, string(stepsJSON), p.TriggerPattern,
		0, 0, nullTime(p.LastExecuted), p.Effectiveness, now, now,
	)
	if err != nil {
		return erring.BackendUnavailable("procedural.CreateVersion", err)
	}
	logging.Get(logging.CategoryProcedural).Info("created procedure %s v%d", p.Name, p.Version)
	return nil
}

// initialEffectiveness is the Beta(1,1) prior mean before any executions.
func initialEffectiveness() float64 { return 0.5 }

// RecordExecution updates execution/success counters and recomputes
// effectiveness as a Beta(1,1)-smoothed rate: (success+1)/(executions+2).
func (s *Store) RecordExecution(ctx context.Context, id string, succeeded bool) error {
	return s.pool.InTransaction(ctx, func(tx *sql.Tx) error {
		var execCount, successCount int
		if err := tx.QueryRowContext(ctx, `SELECT execution_count, success_count FROM procedures WHERE id = ?`, id).
			Scan(&execCount, &successCount); err != nil {
			if err == sql.ErrNoRows {
				return erring.InvalidInput("procedural.RecordExecution", "no procedure with that id")
			}
			return erring.BackendUnavailable("procedural.RecordExecution", err)
		}
		execCount++
		if succeeded {
			successCount++
		}
		effectiveness := float64(successCount+1) / float64(execCount+2)
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE procedures SET execution_count = ?, success_count = ?,
			effectiveness = ?, last_executed = ?, updated_at = ? WHERE id = ?`,
			execCount, successCount, effectiveness, now, now, id); err != nil {
			return erring.BackendUnavailable("procedural.RecordExecution", err)
		}
		return nil
	})
}

// Get fetches the procedure version row with the given id.
func (s *Store) Get(ctx context.Context, id string) (*types.Procedure, error) {
	row := s.pool.QueryRow(ctx, selectProcedureSQL+` WHERE id = ?`, id)
	p, err := scanProcedure(row)
	if err == sql.ErrNoRows {
		return nil, erring.InvalidInput("procedural.Get", "no procedure with that id")
	}
	if err != nil {
		return nil, erring.BackendUnavailable("procedural.Get", err)
	}
	return p, nil
}

// LatestVersion returns the highest-version row for (project_id, name).
func (s *Store) LatestVersion(ctx context.Context, projectID, name string) (*types.Procedure, error) {
	row := s.pool.QueryRow(ctx, selectProcedureSQL+` WHERE project_id = ? AND name = ? ORDER BY version DESC LIMIT 1`,
		projectID, name)
	p, err := scanProcedure(row)
	if err == sql.ErrNoRows {
		return nil, erring.InvalidInput("procedural.LatestVersion", "no procedure with that name")
	}
	if err != nil {
		return nil, erring.BackendUnavailable("procedural.LatestVersion", err)
	}
	return p, nil
}

// MatchTriggers returns latest-version procedures for a project whose
// trigger_pattern substring-matches the given context string, ordered by
// effectiveness descending.
func (s *Store) MatchTriggers(ctx context.Context, projectID, contextText string) ([]*types.Procedure, error) {
	rows, err := s.pool.QueryRows(ctx, selectProcedureSQL+` WHERE project_id = ?
		AND version = (SELECT MAX(p2.version) FROM procedures p2 WHERE p2.project_id = procedures.project_id AND p2.name = procedures.name)
		ORDER BY effectiveness DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all, err := scanProcedures(rows)
	if err != nil {
		return nil, err
	}

	var matched []*types.Procedure
	lower := strings.ToLower(contextText)
	for _, p := range all {
		if p.TriggerPattern == "" || strings.Contains(lower, strings.ToLower(p.TriggerPattern)) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

const selectProcedureSQL = `SELECT id, project_id, name, description, category, version, steps, trigger_pattern,
	execution_count, success_count, last_executed, effectiveness, created_at, updated_at FROM procedures`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProcedure(r rowScanner) (*types.Procedure, error) {
	var p types.Procedure
	var stepsJSON string
	var lastExecuted sql.NullTime

	if err := r.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.Category, &p.Version, &stepsJSON,
		&p.TriggerPattern, &p.ExecutionCount, &p.SuccessCount, &lastExecuted, &p.Effectiveness,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(stepsJSON), &p.Steps)
	if lastExecuted.Valid {
		p.LastExecuted = lastExecuted.Time
	}
	return &p, nil
}

func scanProcedures(rows *sql.Rows) ([]*types.Procedure, error) {
	var out []*types.Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, erring.BackendUnavailable("procedural.scanProcedures", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
