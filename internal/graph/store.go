// Package graph implements C8 Graph Store: entities, weighted relations,
// and community detection, adapted from the teacher's local_graph.go
// neighborhood/shortest-path traversal pattern.
package graph

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
	"github.com/athena-core/memory/internal/types"
)

// Store is C8 Graph Store.
type Store struct {
	pool *dbpool.Pool
}

// New constructs a graph Store.
func New(pool *dbpool.Pool) *Store { return &Store{pool: pool} }

// UpsertEntity inserts an Entity, or updates the description and properties
// of the row with the same id. An empty ID gets a new uuid.
func (s *Store) UpsertEntity(ctx context.Context, e *types.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	propsJSON, _ := json.Marshal(e.Properties)

	_, err := s.pool.Exec(ctx, `INSERT INTO entities (id, project_id, name, entity_type, description, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET description=excluded.description, properties=excluded.properties, updated_at=excluded.updated_at`,
		e.ID, e.ProjectID, e.Name, e.EntityType, e.Description, string(propsJSON), now, now)
	if err != nil {
		return erring.BackendUnavailable("graph.UpsertEntity", err)
	}
	return nil
}

// UpsertRelation inserts an edge, or if (project_id, from, to, type) already
// exists, folds the new weight into the existing one via an exponential
// moving average (alpha=0.3) rather than creating a duplicate edge — the
// no-duplicate-edge invariant of spec.md §4.C8.
func (s *Store) UpsertRelation(ctx context.Context, r *types.Relation) error {
	const alpha = 0.3
	now := time.Now().UTC()

	return s.pool.InTransaction(ctx, func(tx *sql.Tx) error {
		var existingID string
		var existingWeight float64
		err := tx.QueryRowContext(ctx, `SELECT id, weight FROM relations WHERE project_id = ? AND from_entity = ? AND to_entity = ? AND relation_type = ?`,
			r.ProjectID, r.FromEntity, r.ToEntity, r.RelationType).Scan(&existingID, &existingWeight)
		switch err {
		case nil:
			newWeight := alpha*r.Weight + (1-alpha)*existingWeight
			if _, err := tx.ExecContext(ctx, `UPDATE relations SET weight = ?, updated_at = ? WHERE id = ?`, newWeight, now, existingID); err != nil {
				return erring.BackendUnavailable("graph.UpsertRelation", err)
			}
			r.ID = existingID
			r.Weight = newWeight
			return nil
		case sql.ErrNoRows:
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO relations
				(id, project_id, from_entity, to_entity, relation_type, weight, temporal_start, temporal_end, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.ProjectID, r.FromEntity, r.ToEntity, r.RelationType, r.Weight,
				optionalTime(r.TemporalBoundsStart), optionalTime(r.TemporalBoundsEnd), now, now); err != nil {
				return erring.BackendUnavailable("graph.UpsertRelation", err)
			}
			return nil
		default:
			return erring.BackendUnavailable("graph.UpsertRelation", err)
		}
	})
}

// GetNeighborhood returns entities within hops edges of centerID, following
// relations in either direction.
func (s *Store) GetNeighborhood(ctx context.Context, projectID, centerID string, hops int) ([]*types.Entity, error) {
	adjacency, err := s.loadAdjacency(ctx, projectID)
	if err != nil {
		return nil, err
	}

	visited := map[string]int{centerID: 0}
	queue := []string{centerID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] >= hops {
			continue
		}
		for _, edge := range adjacency[cur] {
			if _, seen := visited[edge.to]; !seen {
				visited[edge.to] = visited[cur] + 1
				queue = append(queue, edge.to)
			}
		}
	}

	var ids []string
	for id := range visited {
		if id != centerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return s.fetchEntities(ctx, ids)
}

// ShortestPath returns the minimum-weight path of entity ids from -> to
// using Dijkstra's algorithm over inverse relation weight as edge cost
// (stronger relations are "closer").
func (s *Store) ShortestPath(ctx context.Context, projectID, from, to string) ([]string, error) {
	adjacency, err := s.loadAdjacency(ctx, projectID)
	if err != nil {
		return nil, err
	}

	dist := map[string]float64{from: 0}
	prev := map[string]string{}
	pq := &priorityQueue{{id: from, dist: 0}}
	heap.Init(pq)
	visited := map[string]bool{}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(pqItem)
		if visited[item.id] {
			continue
		}
		visited[item.id] = true
		if item.id == to {
			break
		}
		for _, edge := range adjacency[item.id] {
			cost := edgeCost(edge.weight)
			alt := dist[item.id] + cost
			if existing, ok := dist[edge.to]; !ok || alt < existing {
				dist[edge.to] = alt
				prev[edge.to] = item.id
				heap.Push(pq, pqItem{id: edge.to, dist: alt})
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil, erring.InvalidInput("graph.ShortestPath", "no path between entities")
	}

	path := []string{to}
	for cur := to; cur != from; {
		p, ok := prev[cur]
		if !ok {
			return nil, erring.InvalidInput("graph.ShortestPath", "no path between entities")
		}
		path = append([]string{p}, path...)
		cur = p
	}
	return path, nil
}

func edgeCost(weight float64) float64 {
	if weight <= 0 {
		weight = 0.01
	}
	return 1.0 / weight
}

type edge struct {
	to     string
	weight float64
}

func (s *Store) loadAdjacency(ctx context.Context, projectID string) (map[string][]edge, error) {
	rows, err := s.pool.QueryRows(ctx, `SELECT from_entity, to_entity, weight FROM relations WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjacency := map[string][]edge{}
	for rows.Next() {
		var from, to string
		var weight float64
		if err := rows.Scan(&from, &to, &weight); err != nil {
			return nil, erring.BackendUnavailable("graph.loadAdjacency", err)
		}
		adjacency[from] = append(adjacency[from], edge{to: to, weight: weight})
		adjacency[to] = append(adjacency[to], edge{to: from, weight: weight})
	}
	return adjacency, rows.Err()
}

func (s *Store) fetchEntities(ctx context.Context, ids []string) ([]*types.Entity, error) {
	var out []*types.Entity
	for _, id := range ids {
		row := s.pool.QueryRow(ctx, `SELECT id, project_id, name, entity_type, description, properties, created_at, updated_at
			FROM entities WHERE id = ?`, id)
		var e types.Entity
		var propsJSON string
		if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.EntityType, &e.Description, &propsJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, erring.BackendUnavailable("graph.fetchEntities", err)
		}
		_ = json.Unmarshal([]byte(propsJSON), &e.Properties)
		out = append(out, &e)
	}
	return out, nil
}

// ComputeCommunities runs a fixed-iteration label-propagation pass (a
// lightweight stand-in for Louvain/Leiden, scoped per-project) over the
// project's relation graph and persists the resulting clusters.
func (s *Store) ComputeCommunities(ctx context.Context, projectID string, maxIterations int) ([]*types.Community, error) {
	adjacency, err := s.loadAdjacency(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(adjacency) == 0 {
		return nil, nil
	}

	nodes := make([]string, 0, len(adjacency))
	label := map[string]string{}
	for n := range adjacency {
		nodes = append(nodes, n)
		label[n] = n
	}
	sort.Strings(nodes) // deterministic iteration order

	for i := 0; i < maxIterations; i++ {
		changed := false
		for _, n := range nodes {
			counts := map[string]float64{}
			for _, e := range adjacency[n] {
				counts[label[e.to]] += e.weight
			}
			best, bestWeight := label[n], -1.0
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if counts[k] > bestWeight {
					best, bestWeight = k, counts[k]
				}
			}
			if best != label[n] {
				label[n] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	groups := map[string][]string{}
	for _, n := range nodes {
		groups[label[n]] = append(groups[label[n]], n)
	}

	now := time.Now().UTC()
	var communities []*types.Community
	for _, members := range groups {
		sort.Strings(members)
		c := &types.Community{ID: uuid.NewString(), ProjectID: projectID, Level: 0, MemberEntities: members, CreatedAt: now}
		communities = append(communities, c)
		membersJSON, _ := json.Marshal(members)
		if _, err := s.pool.Exec(ctx, `INSERT INTO communities (id, project_id, level, member_entities, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`, c.ID, c.ProjectID, c.Level, string(membersJSON), "", now); err != nil {
			return nil, erring.BackendUnavailable("graph.ComputeCommunities", err)
		}
	}
	logging.Get(logging.CategoryGraph).Info("computed %d communities for project %s", len(communities), projectID)
	return communities, nil
}

// pqItem is one entry in the Dijkstra priority queue.
type pqItem struct {
	id   string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
