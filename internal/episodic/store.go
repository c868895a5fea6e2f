package episodic

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// Filter narrows List/Count queries. Since, if non-zero, restricts results
// to events timestamped at or after it.
type Filter struct {
	SessionID string
	SourceID  string
	EventType types.EventType
	Lifecycle types.Lifecycle
	Since     time.Time
}

// Store is C4 Episodic Store.
type Store struct {
	pool *dbpool.Pool
}

// New constructs an episodic Store over an open pool.
func New(pool *dbpool.Pool) *Store { return &Store{pool: pool} }

var lifecycleForward = map[types.Lifecycle][]types.Lifecycle{
	types.LifecycleActive:        {types.LifecycleConsolidating, types.LifecycleArchived},
	types.LifecycleConsolidating: {types.LifecycleConsolidated, types.LifecycleArchived},
	types.LifecycleConsolidated:  {types.LifecycleArchived},
	types.LifecycleArchived:      {},
}

// Append inserts one event, returning the existing id unchanged if its
// content_hash already exists for the project (dedup, spec.md §4.C4).
func (s *Store) Append(ctx context.Context, e *types.EpisodicEvent) (string, error) {
	ids, err := s.AppendBatch(ctx, []*types.EpisodicEvent{e})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// AppendBatch inserts events transactionally. An event whose content hash
// duplicates an earlier event in the batch or an existing row is not
// inserted: its slot in the returned ids holds the existing id. Duplicates do
// not fail the batch, and no DuplicateInBatch error or other report of them
// is produced.
func (s *Store) AppendBatch(ctx context.Context, events []*types.EpisodicEvent) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}
	ids := make([]string, len(events))
	seen := map[[32]byte]string{}

	err := s.pool.InTransaction(ctx, func(tx *sql.Tx) error {
		for i, e := range events {
			hash := ContentHash(e)

			if existingID, ok := seen[hash]; ok {
				ids[i] = existingID
				continue
			}

			var existingID string
			row := tx.QueryRowContext(ctx, `SELECT id FROM episodic_events WHERE project_id = ? AND content_hash = ?`, e.ProjectID, hash[:])
			switch err := row.Scan(&existingID); err {
			case nil:
				ids[i] = existingID
				seen[hash] = existingID
				continue
			case sql.ErrNoRows:
				// fall through to insert
			default:
				return erring.BackendUnavailable("episodic.AppendBatch", err)
			}

			id := e.ID
			if id == "" {
				id = uuid.NewString()
			}
			now := time.Now().UTC()
			if e.Timestamp.IsZero() {
				e.Timestamp = now
			}
			if e.Lifecycle == "" {
				e.Lifecycle = types.LifecycleActive
			}

			ctxJSON, _ := json.Marshal(e.StructuredContext)
			embeddingBlob := encodeEmbedding(e.Embedding)

			_, err := tx.ExecContext(ctx, `INSERT INTO episodic_events
				(id, project_id, session_id, source_id, event_type, content, structured_context, content_hash,
				 embedding, timestamp, lifecycle, importance, actionability, context_completeness, causality_parent,
				 created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, e.ProjectID, e.SessionID, e.SourceID, string(e.EventType), e.Content, string(ctxJSON), hash[:],
				embeddingBlob, e.Timestamp, string(e.Lifecycle), e.Importance, e.Actionability, e.ContextCompleteness,
				e.CausalityParent, now, now,
			)
			if err != nil {
				return erring.BackendUnavailable("episodic.AppendBatch", err)
			}

			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_hashes (project_id, content_hash, first_seen_at) VALUES (?, ?, ?)`,
				e.ProjectID, hash[:], now); err != nil {
				return erring.BackendUnavailable("episodic.AppendBatch", err)
			}

			ids[i] = id
			seen[hash] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Get(logging.CategoryEpisodic).Info("appended batch of %d events", len(events))
	return ids, nil
}

// Get fetches one event by id.
func (s *Store) Get(ctx context.Context, id string) (*types.EpisodicEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, project_id, session_id, source_id, event_type, content, structured_context,
		content_hash, embedding, timestamp, lifecycle, importance, actionability, context_completeness,
		causality_parent, created_at, updated_at FROM episodic_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, erring.InvalidInput("episodic.Get", "no event with that id")
	}
	if err != nil {
		return nil, erring.BackendUnavailable("episodic.Get", err)
	}
	return e, nil
}

// List returns events for a project matching filter, newest first.
func (s *Store) List(ctx context.Context, projectID string, filter Filter, limit, offset int) ([]*types.EpisodicEvent, error) {
	query := `SELECT id, project_id, session_id, source_id, event_type, content, structured_context,
		content_hash, embedding, timestamp, lifecycle, importance, actionability, context_completeness,
		causality_parent, created_at, updated_at FROM episodic_events WHERE project_id = ?`
	args := []interface{}{projectID}

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if filter.Lifecycle != "" {
		query += ` AND lifecycle = ?`
		args = append(args, string(filter.Lifecycle))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.pool.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecallTemporal returns events within [now-window, now] for a project.
func (s *Store) RecallTemporal(ctx context.Context, projectID string, window time.Duration, limit int) ([]*types.EpisodicEvent, error) {
	since := time.Now().Add(-window)
	rows, err := s.pool.QueryRows(ctx, `SELECT id, project_id, session_id, source_id, event_type, content, structured_context,
		content_hash, embedding, timestamp, lifecycle, importance, actionability, context_completeness,
		causality_parent, created_at, updated_at FROM episodic_events
		WHERE project_id = ? AND timestamp >= ? ORDER BY timestamp DESC LIMIT ?`, projectID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkLifecycle transitions ids to newState, rejecting any event not on a
// forward path per spec.md §4.C4.
func (s *Store) MarkLifecycle(ctx context.Context, ids []string, newState types.Lifecycle) error {
	return s.pool.InTransaction(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			var current string
			if err := tx.QueryRowContext(ctx, `SELECT lifecycle FROM episodic_events WHERE id = ?`, id).Scan(&current); err != nil {
				return erring.BackendUnavailable("episodic.MarkLifecycle", err)
			}
			allowed := lifecycleForward[types.Lifecycle(current)]
			ok := false
			for _, a := range allowed {
				if a == newState {
					ok = true
					break
				}
			}
			if !ok {
				return erring.InvalidLifecycleTransition("episodic.MarkLifecycle", current, string(newState))
			}
			if _, err := tx.ExecContext(ctx, `UPDATE episodic_events SET lifecycle = ?, updated_at = ? WHERE id = ?`,
				string(newState), time.Now().UTC(), id); err != nil {
				return erring.BackendUnavailable("episodic.MarkLifecycle", err)
			}
		}
		return nil
	})
}

// ForceLifecycle sets an event's lifecycle without checking the
// forward-only transition table. This exists solely for the consolidation
// engine's failure-policy reversion (consolidating -> active on a failed
// promotion); no other caller should use it.
func (s *Store) ForceLifecycle(ctx context.Context, id string, newState types.Lifecycle) error {
	_, err := s.pool.Exec(ctx, `UPDATE episodic_events SET lifecycle = ?, updated_at = ? WHERE id = ?`,
		string(newState), time.Now().UTC(), id)
	if err != nil {
		return erring.BackendUnavailable("episodic.ForceLifecycle", err)
	}
	return nil
}

// LinkCausality records that child was caused by parent.
func (s *Store) LinkCausality(ctx context.Context, parent, child string) error {
	_, err := s.pool.Exec(ctx, `UPDATE episodic_events SET causality_parent = ?, updated_at = ? WHERE id = ?`,
		parent, time.Now().UTC(), child)
	return err
}

// Count returns the number of events for a project. Only filter.Lifecycle is
// applied; SessionID, SourceID, EventType and Since are ignored.
func (s *Store) Count(ctx context.Context, projectID string, filter Filter) (int, error) {
	query := `SELECT COUNT(*) FROM episodic_events WHERE project_id = ?`
	args := []interface{}{projectID}
	if filter.Lifecycle != "" {
		query += ` AND lifecycle = ?`
		args = append(args, string(filter.Lifecycle))
	}
	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, erring.BackendUnavailable("episodic.Count", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (*types.EpisodicEvent, error) {
	var e types.EpisodicEvent
	var eventType, lifecycle, structuredCtxJSON string
	var hashBlob, embeddingBlob []byte
	var causalityParent sql.NullString

	if err := r.Scan(&e.ID, &e.ProjectID, &e.SessionID, &e.SourceID, &eventType, &e.Content, &structuredCtxJSON,
		&hashBlob, &embeddingBlob, &e.Timestamp, &lifecycle, &e.Importance, &e.Actionability, &e.ContextCompleteness,
		&causalityParent, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	e.EventType = types.EventType(eventType)
	e.Lifecycle = types.Lifecycle(lifecycle)
	copy(e.ContentHash[:], hashBlob)
	e.Embedding = decodeEmbedding(embeddingBlob)
	_ = json.Unmarshal([]byte(structuredCtxJSON), &e.StructuredContext)
	if causalityParent.Valid {
		v := causalityParent.String
		e.CausalityParent = &v
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*types.EpisodicEvent, error) {
	var out []*types.EpisodicEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, erring.BackendUnavailable("episodic.scanEvents", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var v []float32
	_ = json.Unmarshal(b, &v)
	return v
}
