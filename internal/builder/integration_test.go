package builder

import (
	"context"
	"testing"

	listenerpb "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	localratelimit "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/config"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// These tests exercise internal/store and internal/builder together,
// covering the end-to-end scenarios spec.md §8 states as testable
// properties rather than the resolver unit tests in filters_test.go.

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite3", DBDSN: "file::memory:?cache=private&_fk=1"}
	s, err := store.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// setupRouteConfigWithTwoRoutes creates one route configuration with one
// virtual host and two routes ("r-1", "r-2"), both forwarding to the same
// cluster, ready for filter attachments.
func setupRouteConfigWithTwoRoutes(t *testing.T, s *store.Store, team model.Team) model.RouteConfiguration {
	t.Helper()
	ctx := context.Background()
	rc, err := s.Routes.CreateWithChildren(ctx, model.RouteConfiguration{
		Name: "rc-1", ConfigJSON: []byte("{}"), TeamID: &team.ID,
	}, []model.VirtualHost{{Name: "vh-1", Domains: []string{"*"}, Position: 0}}, map[string][]model.Route{
		"vh-1": {
			{Name: "r-1", MatchType: model.MatchPrefix, PathPattern: "/a", ClusterName: "c-backend", Order: 0},
			{Name: "r-2", MatchType: model.MatchPrefix, PathPattern: "/b", ClusterName: "c-backend", Order: 1},
		},
	})
	require.NoError(t, err)
	return rc
}

// TestFilterOverrideScenario implements spec.md §8 end-to-end scenario 6:
// a local_rate_limit filter attached at route-config scope with one value
// is overridden by a route-scope attachment on a single rule; every other
// rule inherits the route-config default.
func TestFilterOverrideScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)

	rc := setupRouteConfigWithTwoRoutes(t, s, team)
	vhosts, err := s.Routes.VirtualHostsFor(ctx, rc.ID)
	require.NoError(t, err)
	require.Len(t, vhosts, 1)
	routes, err := s.Routes.RoutesFor(ctx, vhosts[0].ID)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	var overriddenRoute, plainRoute model.Route
	for _, r := range routes {
		if r.Name == "r-1" {
			overriddenRoute = r
		} else {
			plainRoute = r
		}
	}

	filter, err := s.Filters.Create(ctx, model.Filter{
		Name: "rl", Kind: "local_rate_limit", TeamID: team.ID,
		ConfigJSON: []byte(`{"statPrefix":"base_rl"}`),
	})
	require.NoError(t, err)

	_, err = s.Filters.Attach(ctx, model.FilterAttachment{
		FilterID: filter.ID, Level: model.LevelRouteConfig, RouteConfigID: rc.ID,
		Behavior: model.BehaviorUseBase, FilterOrder: 0,
	})
	require.NoError(t, err)

	_, err = s.Filters.Attach(ctx, model.FilterAttachment{
		FilterID: filter.ID, Level: model.LevelRoute, RouteConfigID: rc.ID, RouteID: overriddenRoute.ID,
		Behavior: model.BehaviorOverride, OverrideJSON: []byte(`{"statPrefix":"override_rl"}`), FilterOrder: 0,
	})
	require.NoError(t, err)

	b := New(s, nil, nil)
	built, err := b.buildRouteConfiguration(ctx, rc)
	require.NoError(t, err)
	require.Len(t, built.VirtualHosts, 1)

	var overriddenPB *localratelimit.LocalRateLimit
	for _, pr := range built.VirtualHosts[0].Routes {
		any := pr.GetTypedPerFilterConfig()["envoy.filters.http.local_ratelimit"]
		switch pr.Name {
		case overriddenRoute.Name:
			require.NotNil(t, any, "overridden route must carry its own per-filter config")
			var cfg localratelimit.LocalRateLimit
			require.NoError(t, any.UnmarshalTo(&cfg))
			overriddenPB = &cfg
		case plainRoute.Name:
			require.Nil(t, any, "use_base at route-config scope contributes no per-route override")
		}
	}
	require.NotNil(t, overriddenPB)
	require.Equal(t, "override_rl", overriddenPB.StatPrefix)
}

// TestAutoFilterGCScenario implements spec.md §8's "Auto-filter GC" testable
// property: removing the last route attachment of a filter removes the
// corresponding entry from every listener filter chain it had populated.
func TestAutoFilterGCScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)

	rc := setupRouteConfigWithTwoRoutes(t, s, team)
	listener, err := s.Listeners.Create(ctx, model.Listener{
		Name: "l-1", Address: "0.0.0.0", TeamID: &team.ID,
	}, []string{rc.ID})
	require.NoError(t, err)

	filter, err := s.Filters.Create(ctx, model.Filter{
		Name: "rl", Kind: "local_rate_limit", TeamID: team.ID, ConfigJSON: []byte(`{}`),
	})
	require.NoError(t, err)

	attachment, err := s.Filters.Attach(ctx, model.FilterAttachment{
		FilterID: filter.ID, Level: model.LevelRouteConfig, RouteConfigID: rc.ID,
		Behavior: model.BehaviorUseBase,
	})
	require.NoError(t, err)

	b := New(s, nil, nil)

	built, err := b.buildListener(ctx, listener)
	require.NoError(t, err)
	names := httpFilterNames(t, built)
	require.Contains(t, names, "envoy.filters.http.local_ratelimit")

	autoFilters, err := s.Filters.AutoFiltersForListener(ctx, listener.ID)
	require.NoError(t, err)
	require.Len(t, autoFilters, 1)

	require.NoError(t, s.Filters.Detach(ctx, attachment.ID))

	rebuilt, err := b.buildListener(ctx, listener)
	require.NoError(t, err)
	names = httpFilterNames(t, rebuilt)
	require.NotContains(t, names, "envoy.filters.http.local_ratelimit")

	autoFiltersAfter, err := s.Filters.AutoFiltersForListener(ctx, listener.ID)
	require.NoError(t, err)
	require.Empty(t, autoFiltersAfter, "the auto-filter row must be garbage collected once its attachment is gone")
}

// TestRouteScopeOnlyFilterReachesListenerChain covers spec.md §4.2's
// "attached to any route rule (or vhost/route-config)": a filter attached
// only at route scope, with no route_config-scope attachment at all, must
// still be auto-inserted into the bound listener's HTTP filter chain, and
// its ListenerAutoFilter bookkeeping row must carry the route scope (not a
// fabricated route_config scope).
func TestRouteScopeOnlyFilterReachesListenerChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	team, err := s.Teams.Create(ctx, model.Team{Name: "checkout", Organization: "acme"})
	require.NoError(t, err)

	rc := setupRouteConfigWithTwoRoutes(t, s, team)
	vhosts, err := s.Routes.VirtualHostsFor(ctx, rc.ID)
	require.NoError(t, err)
	routes, err := s.Routes.RoutesFor(ctx, vhosts[0].ID)
	require.NoError(t, err)
	var targetRoute model.Route
	for _, r := range routes {
		if r.Name == "r-1" {
			targetRoute = r
		}
	}
	require.NotEmpty(t, targetRoute.ID)

	listener, err := s.Listeners.Create(ctx, model.Listener{
		Name: "l-1", Address: "0.0.0.0", TeamID: &team.ID,
	}, []string{rc.ID})
	require.NoError(t, err)

	filter, err := s.Filters.Create(ctx, model.Filter{
		Name: "rl", Kind: "local_rate_limit", TeamID: team.ID, ConfigJSON: []byte(`{}`),
	})
	require.NoError(t, err)

	attachment, err := s.Filters.Attach(ctx, model.FilterAttachment{
		FilterID: filter.ID, Level: model.LevelRoute, RouteConfigID: rc.ID, RouteID: targetRoute.ID,
		Behavior: model.BehaviorUseBase,
	})
	require.NoError(t, err)

	b := New(s, nil, nil)
	built, err := b.buildListener(ctx, listener)
	require.NoError(t, err)
	names := httpFilterNames(t, built)
	require.Contains(t, names, "envoy.filters.http.local_ratelimit",
		"a route-scope-only attachment must still be auto-inserted into the listener's filter chain")

	autoFilters, err := s.Filters.AutoFiltersForListener(ctx, listener.ID)
	require.NoError(t, err)
	require.Len(t, autoFilters, 1)
	require.Equal(t, model.LevelRoute, autoFilters[0].Level)
	require.Equal(t, targetRoute.ID, autoFilters[0].RouteID)
	require.Empty(t, autoFilters[0].VirtualHostID)

	require.NoError(t, s.Filters.Detach(ctx, attachment.ID))
	rebuilt, err := b.buildListener(ctx, listener)
	require.NoError(t, err)
	require.NotContains(t, httpFilterNames(t, rebuilt), "envoy.filters.http.local_ratelimit")
}

// httpFilterNames extracts the names of the HttpFilters configured on a
// built listener's (single) HTTP connection manager, in chain order.
func httpFilterNames(t *testing.T, l *listenerpb.Listener) []string {
	t.Helper()
	require.Len(t, l.FilterChains, 1)
	require.Len(t, l.FilterChains[0].Filters, 1)
	var manager hcm.HttpConnectionManager
	require.NoError(t, l.FilterChains[0].Filters[0].GetTypedConfig().UnmarshalTo(&manager))
	names := make([]string, 0, len(manager.HttpFilters))
	for _, f := range manager.HttpFilters {
		names = append(names, f.Name)
	}
	return names
}
