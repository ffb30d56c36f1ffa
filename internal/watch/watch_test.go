package watch

import (
	"context"
	"testing"
	"time"

	resourcev3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajeevramani/flowplane/internal/builder"
	"github.com/rajeevramani/flowplane/internal/cache"
	"github.com/rajeevramani/flowplane/internal/config"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *cache.Cache) {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite3", DBDSN: "file::memory:?cache=private&_fk=1"}
	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.DB.SetMaxOpenConns(1) // each private in-memory connection is its own database

	b := builder.New(s, nil, nil)
	c := cache.New()
	log := zap.NewNop().Sugar()
	m := New(s, b, c, time.Millisecond, 4, log)
	return m, s, c
}

// TestTickBuildsClusterSlotOnChange covers spec.md §4.4: a watcher detects a
// changed marker, bumps the version counter, rebuilds, and swaps the cache.
func TestTickBuildsClusterSlotOnChange(t *testing.T) {
	m, s, c := newTestManager(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)

	_, ok := c.Get(team.ID, resourcev3.ClusterType)
	require.False(t, ok, "cache slot must be empty before the first tick")

	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "c-backend", ServiceName: "c-backend", ConfigJSON: []byte("{}"), TeamID: &team.ID,
	}, []model.ClusterEndpoint{{Address: "10.0.0.5", Port: 8080, Weight: 1, HealthStatus: "healthy"}})
	require.NoError(t, err)

	require.NoError(t, m.tick(ctx))

	snap, ok := c.Get(team.ID, resourcev3.ClusterType)
	require.True(t, ok)
	require.Equal(t, "1", snap.Version)
	require.Len(t, snap.Resources, 1)
}

// TestTickIsNoopWhenNothingChanged covers the "rebuild storm produces one
// version increment per team-type, not one per mutation" rule: a second
// tick with no intervening write must not bump the version again.
func TestTickIsNoopWhenNothingChanged(t *testing.T) {
	m, s, c := newTestManager(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)
	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "c-backend", ServiceName: "c-backend", ConfigJSON: []byte("{}"), TeamID: &team.ID,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, m.tick(ctx))
	first, ok := c.Get(team.ID, resourcev3.ClusterType)
	require.True(t, ok)

	require.NoError(t, m.tick(ctx))
	second, ok := c.Get(team.ID, resourcev3.ClusterType)
	require.True(t, ok)

	require.Equal(t, first.Version, second.Version, "an unchanged marker must not bump the version again")
}

// TestTickBumpsOnRollingUpdate covers spec.md §8 scenario 2: updating a
// cluster's endpoint bumps the endpoint version on the next tick.
func TestTickBumpsOnRollingUpdate(t *testing.T) {
	m, s, c := newTestManager(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)
	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "c-backend", ServiceName: "c-backend", ConfigJSON: []byte("{}"), TeamID: &team.ID,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, m.tick(ctx))
	before, _ := c.Get(team.ID, resourcev3.EndpointType)

	err = s.Clusters.ReplaceEndpoints(ctx, "c-backend", []model.ClusterEndpoint{{Address: "10.0.0.6", Port: 8080, Weight: 1, HealthStatus: "healthy"}})
	require.NoError(t, err)
	require.NoError(t, m.tick(ctx))
	after, ok := c.Get(team.ID, resourcev3.EndpointType)
	require.True(t, ok)

	require.NotEqual(t, before.Version, after.Version)
}
