// Package workingmem implements C10 Working Memory: a bounded, decaying
// active item set modeled on Baddeley's 7±2 capacity, adapted from the
// teacher's internal/context/activation.go decay/eviction loop.
package workingmem

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// Store is C10 Working Memory.
type Store struct {
	pool *dbpool.Pool
	cfg  config.WorkingMemConfig
}

// New constructs a workingmem Store.
func New(pool *dbpool.Pool, cfg config.WorkingMemConfig) *Store {
	return &Store{pool: pool, cfg: cfg}
}

// Insert adds an item to working memory. If the project is already at the
// soft capacity (7 by default), the lowest-activation item is evicted
// before the insert per spec.md §4.C10. Inserting past hard_capacity (9)
// returns CapacityExceeded instead of evicting further.
func (s *Store) Insert(ctx context.Context, item *types.WorkingMemoryItem) error {
	count, err := s.count(ctx, item.ProjectID)
	if err != nil {
		return err
	}
	if count >= s.cfg.HardCapacity {
		return erring.CapacityExceeded("workingmem.Insert", s.cfg.HardCapacity)
	}
	if count >= s.cfg.SoftCapacity {
		if err := s.evictLowestActivation(ctx, item.ProjectID); err != nil {
			return err
		}
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Activation == 0 {
		item.Activation = 1.0
	}
	if item.DecayRate == 0 {
		item.DecayRate = 0.1
	}
	if item.LastAccessed.IsZero() {
		item.LastAccessed = time.Now().UTC()
	}
	embeddingBlob := encodeEmbedding(item.Embedding)

	_, err = s.pool.Exec(ctx, `INSERT INTO working_memory_items
		(id, project_id, content, component, activation, decay_rate, importance, last_accessed, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProjectID, item.Content, string(item.Component), item.Activation, item.DecayRate,
		item.Importance, item.LastAccessed, embeddingBlob)
	if err != nil {
		return erring.BackendUnavailable("workingmem.Insert", err)
	}
	logging.Get(logging.CategoryWorkingMemory).Debug("inserted working memory item %s", item.ID)
	return nil
}

func (s *Store) count(ctx context.Context, projectID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM working_memory_items WHERE project_id = ?`, projectID).Scan(&n); err != nil {
		return 0, erring.BackendUnavailable("workingmem.count", err)
	}
	return n, nil
}

func (s *Store) evictLowestActivation(ctx context.Context, projectID string) error {
	items, err := s.List(ctx, projectID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Activation < items[j].Activation })
	_, err = s.pool.Exec(ctx, `DELETE FROM working_memory_items WHERE id = ?`, items[0].ID)
	if err != nil {
		return erring.BackendUnavailable("workingmem.evictLowestActivation", err)
	}
	return nil
}

// List returns all items for a project with activation decayed to the
// current time: activation(t) = activation(t0) *
// exp(-decay_rate * (1 - importance*0.5) * elapsed_s),
// floored at decay_floor.
func (s *Store) List(ctx context.Context, projectID string) ([]*types.WorkingMemoryItem, error) {
	rows, err := s.pool.QueryRows(ctx, `SELECT id, project_id, content, component, activation, decay_rate,
		importance, last_accessed, embedding FROM working_memory_items WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.WorkingMemoryItem
	for rows.Next() {
		var item types.WorkingMemoryItem
		var component string
		var embeddingBlob []byte
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Content, &component, &item.Activation,
			&item.DecayRate, &item.Importance, &item.LastAccessed, &embeddingBlob); err != nil {
			return nil, erring.BackendUnavailable("workingmem.List", err)
		}
		item.Component = types.WorkingMemComponent(component)
		item.Embedding = decodeEmbedding(embeddingBlob)
		s.applyDecay(&item)
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (s *Store) applyDecay(item *types.WorkingMemoryItem) {
	elapsedS := time.Since(item.LastAccessed).Seconds()
	rate := item.DecayRate * (1 - item.Importance*0.5)
	decayed := item.Activation * math.Exp(-rate*elapsedS)
	if decayed < s.cfg.DecayFloor {
		decayed = s.cfg.DecayFloor
	}
	item.Activation = decayed
}

// Touch refreshes an item's activation to 1.0 and last_accessed to now,
// simulating rehearsal.
func (s *Store) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `UPDATE working_memory_items SET activation = 1.0, last_accessed = ? WHERE id = ?`, now, id)
	if err != nil {
		return erring.BackendUnavailable("workingmem.Touch", err)
	}
	return nil
}

// Sweep removes items whose decayed activation has reached decay_floor.
func (s *Store) Sweep(ctx context.Context, projectID string) (int, error) {
	items, err := s.List(ctx, projectID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if item.Activation <= s.cfg.DecayFloor {
			if _, err := s.pool.Exec(ctx, `DELETE FROM working_memory_items WHERE id = ?`, item.ID); err != nil {
				return removed, erring.BackendUnavailable("workingmem.Sweep", err)
			}
			removed++
		}
	}
	return removed, nil
}

func encodeEmbedding(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	var v []float32
	_ = json.Unmarshal(b, &v)
	return v
}
