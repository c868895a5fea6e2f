// Package session implements C17 Session Context: session lifecycle
// bookkeeping that hydrates working memory on start and enqueues
// consolidation on end, adapted from the teacher's session task-executor
// lifecycle management.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/episodic"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
	"github.com/athena-core/memory/internal/workingmem"
)

// ConsolidationQueue accepts a project id to consolidate once a session
// ends; the manager facade supplies the real implementation.
type ConsolidationQueue interface {
	Enqueue(projectID string)
}

// Context is C17 Session Context.
type Context struct {
	pool    *dbpool.Pool
	episodic *episodic.Store
	wm      *workingmem.Store
	consol  ConsolidationQueue
}

// New constructs a session Context.
func New(pool *dbpool.Pool, ep *episodic.Store, wm *workingmem.Store, consol ConsolidationQueue) *Context {
	return &Context{pool: pool, episodic: ep, wm: wm, consol: consol}
}

// StartSession opens a SessionContext and hydrates working memory with the
// project's episodic events from the last 48 hours, ranked by
// importance*context_completeness*actionability.
func (c *Context) StartSession(ctx context.Context, projectID, task string) (*types.SessionContext, error) {
	sess := &types.SessionContext{
		SessionID: uuid.NewString(),
		ProjectID: projectID,
		Task:      task,
		Phase:     "planning",
		StartedAt: time.Now().UTC(),
	}
	eventIDsJSON, _ := json.Marshal(sess.EventIDs)

	_, err := c.pool.Exec(ctx, `INSERT INTO session_contexts (session_id, project_id, task, phase, started_at, ended_at, event_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, sess.SessionID, sess.ProjectID, sess.Task, sess.Phase, sess.StartedAt, nil, string(eventIDsJSON))
	if err != nil {
		return nil, erring.BackendUnavailable("session.StartSession", err)
	}

	if err := c.hydrateWorkingMemory(ctx, projectID); err != nil {
		logging.Get(logging.CategorySession).Warn("working memory hydration failed: %v", err)
	}

	logging.Get(logging.CategorySession).Info("started session %s for project %s", sess.SessionID, projectID)
	return sess, nil
}

// hydrateWorkingMemory seeds working memory with the highest
// importance*context_completeness*actionability episodic events from the
// last 48 hours.
func (c *Context) hydrateWorkingMemory(ctx context.Context, projectID string) error {
	events, err := c.episodic.RecallTemporal(ctx, projectID, 48*time.Hour, 50)
	if err != nil {
		return err
	}
	sort.Slice(events, func(i, j int) bool {
		return hydrationScore(events[i]) > hydrationScore(events[j])
	})
	limit := 7
	if len(events) < limit {
		limit = len(events)
	}
	for _, ev := range events[:limit] {
		item := &types.WorkingMemoryItem{
			ProjectID:  projectID,
			Content:    ev.Content,
			Component:  types.ComponentEpisodicBuffer,
			Activation: 1.0,
			Importance: ev.Importance,
			Embedding:  ev.Embedding,
		}
		if err := c.wm.Insert(ctx, item); err != nil {
			var e *erring.E
			if errors.As(err, &e) && e.Code() == erring.CodeCapacityExceeded {
				break
			}
			return err
		}
	}
	return nil
}

func hydrationScore(ev *types.EpisodicEvent) float64 {
	return ev.Importance * ev.ContextCompleteness * ev.Actionability
}

// RecordSessionEvent appends an episodic event id to the session's log.
func (c *Context) RecordSessionEvent(ctx context.Context, sessionID, eventID string) error {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.EventIDs = append(sess.EventIDs, eventID)
	eventIDsJSON, _ := json.Marshal(sess.EventIDs)
	_, err = c.pool.Exec(ctx, `UPDATE session_contexts SET event_ids = ? WHERE session_id = ?`, string(eventIDsJSON), sessionID)
	if err != nil {
		return erring.BackendUnavailable("session.RecordSessionEvent", err)
	}
	return nil
}

// UpdateContext updates a session's task/phase.
func (c *Context) UpdateContext(ctx context.Context, sessionID, task, phase string) error {
	_, err := c.pool.Exec(ctx, `UPDATE session_contexts SET task = ?, phase = ? WHERE session_id = ?`, task, phase, sessionID)
	if err != nil {
		return erring.BackendUnavailable("session.UpdateContext", err)
	}
	return nil
}

// GetWorkingMemory returns the project's current working memory set.
func (c *Context) GetWorkingMemory(ctx context.Context, projectID string) ([]*types.WorkingMemoryItem, error) {
	return c.wm.List(ctx, projectID)
}

// Get fetches a SessionContext by id.
func (c *Context) Get(ctx context.Context, sessionID string) (*types.SessionContext, error) {
	row := c.pool.QueryRow(ctx, `SELECT session_id, project_id, task, phase, started_at, ended_at, event_ids
		FROM session_contexts WHERE session_id = ?`, sessionID)

	var sess types.SessionContext
	var eventIDsJSON string
	var endedAt sql.NullTime
	if err := row.Scan(&sess.SessionID, &sess.ProjectID, &sess.Task, &sess.Phase, &sess.StartedAt, &endedAt, &eventIDsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, erring.InvalidInput("session.Get", "no session with that id")
		}
		return nil, erring.BackendUnavailable("session.Get", err)
	}
	_ = json.Unmarshal([]byte(eventIDsJSON), &sess.EventIDs)
	if endedAt.Valid {
		v := endedAt.Time
		sess.EndedAt = &v
	}
	return &sess, nil
}

// EndSession closes a SessionContext and enqueues its project for
// consolidation.
func (c *Context) EndSession(ctx context.Context, sessionID string) error {
	sess, err := c.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = c.pool.Exec(ctx, `UPDATE session_contexts SET ended_at = ?, phase = ? WHERE session_id = ?`, now, "completed", sessionID)
	if err != nil {
		return erring.BackendUnavailable("session.EndSession", err)
	}
	if c.consol != nil {
		c.consol.Enqueue(sess.ProjectID)
	}
	logging.Get(logging.CategorySession).Info("ended session %s", sessionID)
	return nil
}
