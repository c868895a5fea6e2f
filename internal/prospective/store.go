// Package prospective implements C7 Prospective Store: tasks and goals with
// typed triggers and cycle-free dependencies, adapted from the teacher's
// task/executor bookkeeping pattern.
package prospective

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

// Store is C7 Prospective Store.
type Store struct {
	pool *dbpool.Pool
}

// New constructs a prospective Store.
func New(pool *dbpool.Pool) *Store { return &Store{pool: pool} }

// Create inserts a Task, rejecting any dependency set that would introduce
// a cycle in the project's dependency graph.
func (s *Store) Create(ctx context.Context, t *types.Task) error {
	if len(t.Dependencies) > 0 {
		if err := s.checkAcyclic(ctx, t.ProjectID, t.ID, t.Dependencies); err != nil {
			return err
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = types.TaskPending
	}
	if t.Phase == "" {
		t.Phase = types.PhasePlanning
	}
	if t.Priority == 0 {
		t.Priority = 5
	}
	now := time.Now().UTC()

	triggersJSON, _ := json.Marshal(t.Triggers)
	depsJSON, _ := json.Marshal(t.Dependencies)

	_, err := s.pool.Exec(ctx, `INSERT INTO tasks
		(id, project_id, parent_id, title, description, status, priority, phase, triggers, dependencies,
		 deadline, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.ParentID, t.Title, t.Description, string(t.Status), t.Priority, string(t.Phase),
		string(triggersJSON), string(depsJSON), nullableTime(t.Deadline), t.Progress, now, now,
	)
	if err != nil {
		return erring.BackendUnavailable("prospective.Create", err)
	}
	logging.Get(logging.CategoryProspective).Info("created task %s", t.ID)
	return nil
}

// checkAcyclic walks the dependency graph transitively to ensure adding
// edges from taskID to each of deps does not create a cycle.
func (s *Store) checkAcyclic(ctx context.Context, projectID, taskID string, deps []string) error {
	visited := map[string]bool{taskID: true}
	stack := append([]string{}, deps...)

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return erring.IntegrityViolation("prospective.Create", "dependency graph would contain a cycle")
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		var depsJSON string
		err := s.pool.QueryRow(ctx, `SELECT dependencies FROM tasks WHERE id = ? AND project_id = ?`, cur, projectID).Scan(&depsJSON)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return erring.BackendUnavailable("prospective.checkAcyclic", err)
		}
		var next []string
		_ = json.Unmarshal([]byte(depsJSON), &next)
		stack = append(stack, next...)
	}
	return nil
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id string) (*types.Task, error) {
	row := s.pool.QueryRow(ctx, selectTaskSQL+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, erring.InvalidInput("prospective.Get", "no task with that id")
	}
	if err != nil {
		return nil, erring.BackendUnavailable("prospective.Get", err)
	}
	return task, nil
}

// UpdateStatus transitions a task's status and phase.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.TaskStatus, phase types.TaskPhase) error {
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET status = ?, phase = ?, updated_at = ? WHERE id = ?`,
		string(status), string(phase), time.Now().UTC(), id)
	if err != nil {
		return erring.BackendUnavailable("prospective.UpdateStatus", err)
	}
	return nil
}

// ListReady returns pending tasks whose dependencies are all completed,
// ordered by priority descending then deadline ascending.
func (s *Store) ListReady(ctx context.Context, projectID string) ([]*types.Task, error) {
	rows, err := s.pool.QueryRows(ctx, selectTaskSQL+` WHERE project_id = ? AND status = ?
		ORDER BY priority DESC, deadline ASC`, projectID, string(types.TaskPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	candidates, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	var ready []*types.Task
	for _, t := range candidates {
		allDone := true
		for _, depID := range t.Dependencies {
			dep, err := s.Get(ctx, depID)
			if err != nil || dep.Status != types.TaskCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// FireTriggers evaluates each pending or active task's
// time/event/file/predicate triggers against the supplied signal and returns
// ids whose trigger matched. Only time and event triggers are evaluated here;
// file and predicate triggers are matched by exact kind+key equality against
// signal, leaving the semantic evaluation to the caller.
func (s *Store) FireTriggers(ctx context.Context, projectID string, signal TriggerSignal) ([]string, error) {
	rows, err := s.pool.QueryRows(ctx, selectTaskSQL+` WHERE project_id = ? AND status IN (?, ?)`,
		projectID, string(types.TaskPending), string(types.TaskActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	var fired []string
	for _, t := range tasks {
		for _, trig := range t.Triggers {
			if trig.Kind != signal.Kind {
				continue
			}
			if trig.Kind == types.TriggerTime {
				if deadline, ok := trig.Params["at"].(string); ok && deadline <= signal.Key {
					fired = append(fired, t.ID)
					break
				}
				continue
			}
			if key, ok := trig.Params["key"].(string); ok && key == signal.Key {
				fired = append(fired, t.ID)
				break
			}
		}
	}
	return fired, nil
}

// TriggerSignal is an external event that may fire one or more Task triggers.
type TriggerSignal struct {
	Kind types.TriggerKind
	Key  string // event name, file path, predicate name, or RFC3339 timestamp for time triggers
}

const selectTaskSQL = `SELECT id, project_id, parent_id, title, description, status, priority, phase,
	triggers, dependencies, deadline, progress, created_at, updated_at FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(r rowScanner) (*types.Task, error) {
	var t types.Task
	var status, phase, triggersJSON, depsJSON string
	var parentID sql.NullString
	var deadline sql.NullTime

	if err := r.Scan(&t.ID, &t.ProjectID, &parentID, &t.Title, &t.Description, &status, &t.Priority, &phase,
		&triggersJSON, &depsJSON, &deadline, &t.Progress, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = types.TaskStatus(status)
	t.Phase = types.TaskPhase(phase)
	_ = json.Unmarshal([]byte(triggersJSON), &t.Triggers)
	_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	if parentID.Valid {
		v := parentID.String
		t.ParentID = &v
	}
	if deadline.Valid {
		v := deadline.Time
		t.Deadline = &v
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var out []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, erring.BackendUnavailable("prospective.scanTasks", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
