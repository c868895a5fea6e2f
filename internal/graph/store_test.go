package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/dbpool"
	"github.com/athena-core/memory/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool, err := dbpool.Open(config.DBConfig{Path: ":memory:", PoolMin: 2, PoolMax: 4, TimeoutMS: 1000}, 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return New(pool)
}

func seedEntities(t *testing.T, s *Store, ctx context.Context, names ...string) map[string]string {
	t.Helper()
	ids := map[string]string{}
	for _, n := range names {
		e := &types.Entity{ProjectID: "p1", Name: n, EntityType: "node"}
		require.NoError(t, s.UpsertEntity(ctx, e))
		ids[n] = e.ID
	}
	return ids
}

func TestUpsertRelationFoldsDuplicateIntoEMA(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedEntities(t, s, "a", "b")

	r1 := &types.Relation{ProjectID: "p1", FromEntity: ids["a"], ToEntity: ids["b"], RelationType: "knows", Weight: 1.0}
	require.NoError(t, s.UpsertRelation(ctx, r1))

	r2 := &types.Relation{ProjectID: "p1", FromEntity: ids["a"], ToEntity: ids["b"], RelationType: "knows", Weight: 0.0}
	require.NoError(t, s.UpsertRelation(ctx, r2))

	assert.Equal(t, r1.ID, r2.ID, "duplicate edge must reuse the existing row, not insert a new one")
	assert.InDelta(t, 0.7, r2.Weight, 1e-9)

	var count int
	require.NoError(t, s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relations WHERE project_id = ?`, "p1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetNeighborhoodRespectsHopLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedEntities(t, s, "a", "b", "c", "d")

	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["a"], ToEntity: ids["b"], RelationType: "r", Weight: 1}))
	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["b"], ToEntity: ids["c"], RelationType: "r", Weight: 1}))
	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["c"], ToEntity: ids["d"], RelationType: "r", Weight: 1}))

	neighbors, err := s.GetNeighborhood(ctx, "p1", ids["a"], 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, ids["b"], neighbors[0].ID)

	neighbors, err = s.GetNeighborhood(ctx, "p1", ids["a"], 2)
	require.NoError(t, err)
	assert.Len(t, neighbors, 2)
}

func TestShortestPathFindsRoute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedEntities(t, s, "a", "b", "c")

	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["a"], ToEntity: ids["b"], RelationType: "r", Weight: 1}))
	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["b"], ToEntity: ids["c"], RelationType: "r", Weight: 1}))

	path, err := s.ShortestPath(ctx, "p1", ids["a"], ids["c"])
	require.NoError(t, err)
	assert.Equal(t, []string{ids["a"], ids["b"], ids["c"]}, path)
}

func TestShortestPathNoRouteReturnsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedEntities(t, s, "a", "b")

	_, err := s.ShortestPath(ctx, "p1", ids["a"], ids["b"])
	require.Error(t, err)
}

func TestComputeCommunitiesGroupsConnectedEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedEntities(t, s, "a", "b", "c")

	require.NoError(t, s.UpsertRelation(ctx, &types.Relation{ProjectID: "p1", FromEntity: ids["a"], ToEntity: ids["b"], RelationType: "r", Weight: 1}))

	communities, err := s.ComputeCommunities(ctx, "p1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, communities)

	found := false
	for _, c := range communities {
		if len(c.MemberEntities) == 2 {
			found = true
		}
	}
	assert.True(t, found, "a and b should land in the same community")
}
