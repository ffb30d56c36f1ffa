package builder

import (
	"context"
	"fmt"

	corepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	listenerpb "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	routerv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
)

// BuildListeners returns every listener visible to scope. Each listener's
// HTTP connection manager gets an explicit HttpFilters chain: one entry per
// distinct Envoy HTTP filter name among the filters attached anywhere under
// its bound route configurations, in attachment order, terminated by the
// router filter. When several attached filters share a kind (and so an
// Envoy filter name), only the first in attachment order gets an entry and
// an auto-filter row; the others are skipped. Which filters are
// "active" is recorded in listener_auto_filters so a later rebuild can tell
// a filter that's still attached from one that was detached and should be
// dropped from the chain.
func (b *Builder) BuildListeners(ctx context.Context, scope teamScope) ([]*listenerpb.Listener, error) {
	rows, err := b.store.Listeners.ListByTeams(ctx, scope.teams, scope.includeGlobals, 0, 0)
	if err != nil {
		return nil, wrapBuildErr("listeners", err)
	}

	out := make([]*listenerpb.Listener, 0, len(rows))
	for _, l := range rows {
		built, err := b.buildListener(ctx, l)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

func (b *Builder) buildListener(ctx context.Context, l model.Listener) (*listenerpb.Listener, error) {
	routeConfigIDs, err := b.store.Listeners.RouteConfigBindingsFor(ctx, l.ID)
	if err != nil {
		return nil, wrapBuildErr("route bindings for listener "+l.Name, err)
	}

	httpFilters, autoFilters, err := b.resolveListenerFilterChain(ctx, l, routeConfigIDs)
	if err != nil {
		return nil, err
	}

	if err := b.syncAutoFilters(ctx, l.ID, autoFilters); err != nil {
		return nil, wrapBuildErr("auto-filter bookkeeping for listener "+l.Name, err)
	}

	var rdsName string
	if len(routeConfigIDs) > 0 {
		rc, err := b.store.Routes.GetByID(ctx, routeConfigIDs[0])
		if err != nil {
			return nil, wrapBuildErr("primary route configuration for listener "+l.Name, err)
		}
		rdsName = rc.Name
	}

	httpConnMgr := &hcm.HttpConnectionManager{
		StatPrefix: l.Name,
		RouteSpecifier: &hcm.HttpConnectionManager_Rds{
			Rds: &hcm.Rds{
				ConfigSource: &corepb.ConfigSource{
					ConfigSourceSpecifier: &corepb.ConfigSource_Ads{Ads: &corepb.AggregatedConfigSource{}},
					ResourceApiVersion:    corepb.ApiVersion_V3,
				},
				RouteConfigName: rdsName,
			},
		},
		HttpFilters: httpFilters,
	}
	hcmAny, err := anypb.New(httpConnMgr)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding HTTP connection manager for %s: %v", errs.Build, l.Name, err)
	}

	port := uint32(0)
	if l.Port != nil {
		port = uint32(*l.Port)
	}

	return &listenerpb.Listener{
		Name: l.Name,
		Address: &corepb.Address{
			Address: &corepb.Address_SocketAddress{
				SocketAddress: &corepb.SocketAddress{
					Protocol:      corepb.SocketAddress_TCP,
					Address:       l.Address,
					PortSpecifier: &corepb.SocketAddress_PortValue{PortValue: port},
				},
			},
		},
		FilterChains: []*listenerpb.FilterChain{{
			Filters: []*listenerpb.Filter{{
				Name:       wellknown.HTTPConnectionManager,
				ConfigType: &listenerpb.Filter_TypedConfig{TypedConfig: hcmAny},
			}},
		}},
	}, nil
}

// resolveListenerFilterChain walks every route configuration bound to the
// listener, collecting the filters attached anywhere under each (in
// attachment order, route configs in binding order) and keeping the first
// filter per Envoy HTTP filter name, and builds the corresponding
// HttpFilter entries from each kept filter's base config. It
// returns the ready-to-serve HttpFilters list (router filter appended last)
// plus the ListenerAutoFilter rows that should exist after this build.
func (b *Builder) resolveListenerFilterChain(ctx context.Context, l model.Listener, routeConfigIDs []string) ([]*hcm.HttpFilter, []model.ListenerAutoFilter, error) {
	routerAny, err := anypb.New(&routerv3.Router{})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encoding router filter: %v", errs.Build, err)
	}

	seen := make(map[string]bool)
	var httpFilters []*hcm.HttpFilter
	var autoFilters []model.ListenerAutoFilter

	for _, rcID := range routeConfigIDs {
		resolution, err := loadFilterResolution(ctx, b.store.Filters, rcID)
		if err != nil {
			return nil, nil, wrapBuildErr("filter resolution for listener "+l.Name, err)
		}
		for _, filterID := range resolution.orderedFilterIDs {
			kind := resolution.filterKindByID[filterID]
			fk, err := lookupFilterKind(kind)
			if err != nil {
				return nil, nil, err
			}
			if seen[fk.httpFilterName] {
				continue
			}
			seen[fk.httpFilterName] = true

			f, err := b.store.Filters.GetByID(ctx, filterID)
			if err != nil {
				return nil, nil, wrapBuildErr("base filter "+filterID, err)
			}
			cfg, err := parseFilterConfig(kind, f.ConfigJSON)
			if err != nil {
				return nil, nil, err
			}
			cfgAny, err := anypb.New(cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: encoding base config for filter %s: %v", errs.Build, f.Name, err)
			}
			httpFilters = append(httpFilters, &hcm.HttpFilter{
				Name:       fk.httpFilterName,
				ConfigType: &hcm.HttpFilter_TypedConfig{TypedConfig: cfgAny},
			})
			anchor := resolution.anchorAttachment[filterID]
			autoFilters = append(autoFilters, model.ListenerAutoFilter{
				ListenerID:     l.ID,
				HTTPFilterName: fk.httpFilterName,
				SourceFilterID: filterID,
				RouteConfigID:  rcID,
				Level:          anchor.Level,
				VirtualHostID:  anchor.VirtualHostID,
				RouteID:        anchor.RouteID,
			})
		}
	}

	httpFilters = append(httpFilters, &hcm.HttpFilter{
		Name:       wellknown.Router,
		ConfigType: &hcm.HttpFilter_TypedConfig{TypedConfig: routerAny},
	})
	return httpFilters, autoFilters, nil
}

// syncAutoFilters records every wanted auto-filter row and prunes whatever
// was previously recorded for this listener but isn't wanted anymore (the
// source attachment was detached or its route config unbound).
func (b *Builder) syncAutoFilters(ctx context.Context, listenerID string, wanted []model.ListenerAutoFilter) error {
	for _, af := range wanted {
		if err := b.store.Filters.EnsureAutoFilter(ctx, af); err != nil {
			return err
		}
	}
	existing, err := b.store.Filters.AutoFiltersForListener(ctx, listenerID)
	if err != nil {
		return err
	}
	wantKey := func(af model.ListenerAutoFilter) string {
		return af.HTTPFilterName + ":" + af.SourceFilterID + ":" + af.RouteConfigID
	}
	wantedKeys := make(map[string]bool, len(wanted))
	for _, af := range wanted {
		wantedKeys[wantKey(af)] = true
	}
	keepIDs := make([]string, 0, len(existing))
	for _, af := range existing {
		if wantedKeys[wantKey(af)] {
			keepIDs = append(keepIDs, af.ID)
		}
	}
	return b.store.Filters.PruneAutoFilters(ctx, listenerID, keepIDs)
}
