// Package watch implements the change-detection watchers of
// SPEC_FULL.md §4.4: one watcher per resource type, each polling a cheap
// (row_count, max_updated_at) marker per team on a short fixed interval
// and rebuilding only the teams whose marker moved. A rebuild bumps that
// type's configuration_version counter, invokes the resource builder,
// swaps the process cache, and (via cache.Swap itself) notifies every xDS
// stream subscribed to the affected team.
//
// The polling-ticker-plus-bounded-fanout shape is grounded on the
// teacher's registry callback model generalized from "notify synchronously
// on every mutation" to "poll and batch," since SPEC_FULL.md requires a
// rebuild storm (many teams changing within one tick) to produce one
// version bump per team-type, not one per row mutation.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	resourcev3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rajeevramani/flowplane/internal/builder"
	"github.com/rajeevramani/flowplane/internal/cache"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// globalSlot is the cache team-key used for the null-team (global-only)
// resource slot, matching builder.Build(nil)'s "no owning team" scope.
const globalSlot = ""

// typeWatcher is the polling/build/swap recipe for one resource type.
// marker reports the change-detection signal for one team (nil team means
// the global slot); build materializes that team's full visible set.
type typeWatcher struct {
	resourceType model.ResourceType
	typeURL      string
	marker       func(ctx context.Context, team *string) (model.WatchMarker, error)
	build        func(ctx context.Context, team *string) ([]types.Resource, error)
}

// Manager runs every typeWatcher on a shared ticker.
type Manager struct {
	store    *store.Store
	cache    *cache.Cache
	watchers []typeWatcher
	interval time.Duration
	limit    int
	log      *zap.SugaredLogger

	markerMu   sync.Mutex
	lastMarker map[string]model.WatchMarker
}

// New builds a Manager covering all five xDS resource families.
func New(s *store.Store, b *builder.Builder, c *cache.Cache, interval time.Duration, maxConcurrentBuilds int, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		store:      s,
		cache:      c,
		interval:   interval,
		limit:      maxConcurrentBuilds,
		log:        log.Named("watch"),
		lastMarker: make(map[string]model.WatchMarker),
	}

	m.watchers = []typeWatcher{
		{
			resourceType: model.ResourceCluster,
			typeURL:      resourcev3.ClusterType,
			marker:       s.Clusters.WatchMarker,
			build: func(ctx context.Context, team *string) ([]types.Resource, error) {
				return buildClusters(ctx, b, team)
			},
		},
		{
			resourceType: model.ResourceEndpoint,
			typeURL:      resourcev3.EndpointType,
			marker:       s.Clusters.WatchMarker, // endpoints live in cluster_endpoints; clusters' marker covers both
			build: func(ctx context.Context, team *string) ([]types.Resource, error) {
				return buildEndpoints(ctx, b, team)
			},
		},
		{
			resourceType: model.ResourceListener,
			typeURL:      resourcev3.ListenerType,
			marker:       s.Listeners.WatchMarker,
			build: func(ctx context.Context, team *string) ([]types.Resource, error) {
				return buildListeners(ctx, b, team)
			},
		},
		{
			resourceType: model.ResourceRoute,
			typeURL:      resourcev3.RouteType,
			marker:       s.Routes.WatchMarker,
			build: func(ctx context.Context, team *string) ([]types.Resource, error) {
				return buildRoutes(ctx, b, team)
			},
		},
		{
			resourceType: model.ResourceSecret,
			typeURL:      resourcev3.SecretType,
			marker: func(ctx context.Context, team *string) (model.WatchMarker, error) {
				if team == nil {
					return model.WatchMarker{}, nil // secrets are always team-owned; the global slot never has any
				}
				return s.Secrets.WatchMarker(ctx, *team)
			},
			build: func(ctx context.Context, team *string) ([]types.Resource, error) {
				return buildSecrets(ctx, b, team)
			},
		},
	}
	return m
}

// Run polls every watcher on Manager's interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.log.Warnw("watch tick failed", "error", err)
			}
		}
	}
}

// tick checks every (type, team) marker once and rebuilds whatever moved,
// bounded to m.limit concurrent builds so a rebuild storm across many
// teams cannot spawn unbounded goroutines.
func (m *Manager) tick(ctx context.Context) error {
	teams, err := m.store.Teams.List(ctx)
	if err != nil {
		return fmt.Errorf("listing teams: %w", err)
	}

	teamSlots := make([]*string, 0, len(teams)+1)
	teamSlots = append(teamSlots, nil) // the global slot
	for i := range teams {
		id := teams[i].ID
		teamSlots = append(teamSlots, &id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(m.limit, 1))

	for _, tw := range m.watchers {
		tw := tw
		for _, team := range teamSlots {
			team := team
			g.Go(func() error {
				return m.maybeRebuild(gctx, tw, team)
			})
		}
	}
	return g.Wait()
}

func (m *Manager) maybeRebuild(ctx context.Context, tw typeWatcher, team *string) error {
	current, err := tw.marker(ctx, team)
	if err != nil {
		m.log.Warnw("watch marker read failed", "type", tw.typeURL, "team", teamLabel(team), "error", err)
		return nil // backend errors are retried next tick, never surfaced here
	}

	key := tw.typeURL + "\x00" + teamLabel(team)
	prev, _ := m.getMarker(key) // a slot not seen yet compares against the empty marker
	if !current.Changed(prev) {
		return nil
	}

	version, err := m.store.Versions.Bump(ctx, tw.resourceType)
	if err != nil {
		m.log.Warnw("version bump failed", "type", tw.typeURL, "team", teamLabel(team), "error", err)
		return nil
	}

	resources, err := tw.build(ctx, team)
	if err != nil {
		// Build errors are handled locally: the prior cache snapshot stays
		// authoritative for this slot until the next successful rebuild.
		m.log.Errorw("build failed, retaining previous snapshot", "type", tw.typeURL, "team", teamLabel(team), "error", err)
		return nil
	}

	changed, err := m.cache.Swap(teamLabel(team), tw.typeURL, fmt.Sprintf("%d", version), resources)
	if err != nil {
		m.log.Errorw("cache swap failed", "type", tw.typeURL, "team", teamLabel(team), "error", err)
		return nil
	}
	if changed {
		m.log.Debugw("rebuilt slot", "type", tw.typeURL, "team", teamLabel(team), "version", version)
	}
	m.setMarker(key, current)
	return nil
}

func (m *Manager) getMarker(key string) (model.WatchMarker, bool) {
	m.markerMu.Lock()
	defer m.markerMu.Unlock()
	v, ok := m.lastMarker[key]
	return v, ok
}

func (m *Manager) setMarker(key string, v model.WatchMarker) {
	m.markerMu.Lock()
	defer m.markerMu.Unlock()
	m.lastMarker[key] = v
}

func teamLabel(team *string) string {
	if team == nil {
		return globalSlot
	}
	return *team
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
