package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/config"
	"github.com/rajeevramani/flowplane/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite3", DBDSN: "file::memory:?cache=private&_fk=1"}
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTeam(t *testing.T, s *Store, org, name string) model.Team {
	t.Helper()
	team, err := s.Teams.Create(context.Background(), model.Team{Name: name, Organization: org})
	require.NoError(t, err)
	return team
}

func TestTeamCreateAndGetByName(t *testing.T) {
	s := openTestStore(t)
	team := createTeam(t, s, "acme", "checkout")
	require.NotEmpty(t, team.ID)
	require.Equal(t, model.TeamActive, team.Status)

	fetched, err := s.Teams.GetByName(context.Background(), "acme", "checkout")
	require.NoError(t, err)
	require.Equal(t, team.ID, fetched.ID)
}

func TestTeamCreateRejectsMissingFields(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Teams.Create(context.Background(), model.Team{Name: "checkout"})
	require.Error(t, err)
}

func TestClusterListByTeamsIsolatesTeams(t *testing.T) {
	s := openTestStore(t)
	teamA := createTeam(t, s, "acme", "team-a")
	teamB := createTeam(t, s, "acme", "team-b")

	ctx := context.Background()
	_, err := s.Clusters.Create(ctx, model.Cluster{
		Name: "svc-a", ServiceName: "svc-a", ConfigJSON: []byte("{}"), TeamID: &teamA.ID,
	}, nil)
	require.NoError(t, err)
	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "svc-b", ServiceName: "svc-b", ConfigJSON: []byte("{}"), TeamID: &teamB.ID,
	}, nil)
	require.NoError(t, err)

	clustersA, err := s.Clusters.ListByTeams(ctx, []string{teamA.ID}, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, clustersA, 1)
	require.Equal(t, "svc-a", clustersA[0].Name)
}

func TestClusterListByTeamsIncludesGlobals(t *testing.T) {
	s := openTestStore(t)
	teamA := createTeam(t, s, "acme", "team-a")

	ctx := context.Background()
	_, err := s.Clusters.Create(ctx, model.Cluster{
		Name: "global-svc", ServiceName: "global-svc", ConfigJSON: []byte("{}"),
	}, nil)
	require.NoError(t, err)
	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "team-svc", ServiceName: "team-svc", ConfigJSON: []byte("{}"), TeamID: &teamA.ID,
	}, nil)
	require.NoError(t, err)

	withGlobals, err := s.Clusters.ListByTeams(ctx, []string{teamA.ID}, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, withGlobals, 2)

	withoutGlobals, err := s.Clusters.ListByTeams(ctx, []string{teamA.ID}, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, withoutGlobals, 1)
}

func TestClusterCreateWithEndpointsRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Clusters.Create(ctx, model.Cluster{
		Name: "checkout", ServiceName: "checkout-svc", ConfigJSON: []byte("{}"),
	}, []model.ClusterEndpoint{
		{Address: "10.0.0.1", Port: 8080, Weight: 1, Priority: 0, HealthStatus: "healthy"},
		{Address: "10.0.0.2", Port: 8080, Weight: 2, Priority: 0, HealthStatus: "healthy"},
	})
	require.NoError(t, err)

	endpoints, err := s.Clusters.EndpointsFor(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
}

func TestClusterWatchMarkerChangesOnInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before, err := s.Clusters.WatchMarker(ctx, nil)
	require.NoError(t, err)

	_, err = s.Clusters.Create(ctx, model.Cluster{
		Name: "svc", ServiceName: "svc", ConfigJSON: []byte("{}"),
	}, nil)
	require.NoError(t, err)

	after, err := s.Clusters.WatchMarker(ctx, nil)
	require.NoError(t, err)
	require.True(t, after.Changed(before), "inserting a cluster must change the global watch marker")
}

func TestClusterDeleteByNameRemovesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Clusters.Create(ctx, model.Cluster{
		Name: "to-delete", ServiceName: "to-delete", ConfigJSON: []byte("{}"),
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Clusters.DeleteByName(ctx, "to-delete"))

	_, err = s.Clusters.GetByName(ctx, "to-delete")
	require.Error(t, err)
}
