package builder

import (
	"context"

	routepb "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	matcherpb "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"

	"github.com/rajeevramani/flowplane/internal/model"
)

// BuildRouteConfigurations returns every route configuration visible to
// scope, with filter inheritance already resolved into each virtual host's
// and route's TypedPerFilterConfig.
func (b *Builder) BuildRouteConfigurations(ctx context.Context, scope teamScope) ([]*routepb.RouteConfiguration, error) {
	rows, err := b.store.Routes.ListByTeams(ctx, scope.teams, scope.includeGlobals, 0, 0)
	if err != nil {
		return nil, wrapBuildErr("route configurations", err)
	}

	out := make([]*routepb.RouteConfiguration, 0, len(rows))
	for _, rc := range rows {
		built, err := b.buildRouteConfiguration(ctx, rc)
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}

func (b *Builder) buildRouteConfiguration(ctx context.Context, rc model.RouteConfiguration) (*routepb.RouteConfiguration, error) {
	resolution, err := loadFilterResolution(ctx, b.store.Filters, rc.ID)
	if err != nil {
		return nil, wrapBuildErr("filter resolution for route configuration "+rc.Name, err)
	}

	vhosts, err := b.store.Routes.VirtualHostsFor(ctx, rc.ID)
	if err != nil {
		return nil, wrapBuildErr("virtual hosts for "+rc.Name, err)
	}

	pbVHosts := make([]*routepb.VirtualHost, 0, len(vhosts))
	for _, vh := range vhosts {
		pbVH, err := b.buildVirtualHost(ctx, rc, vh, resolution)
		if err != nil {
			return nil, err
		}
		pbVHosts = append(pbVHosts, pbVH)
	}

	return &routepb.RouteConfiguration{
		Name:         rc.Name,
		VirtualHosts: pbVHosts,
	}, nil
}

func (b *Builder) buildVirtualHost(ctx context.Context, rc model.RouteConfiguration, vh model.VirtualHost, resolution *filterResolution) (*routepb.VirtualHost, error) {
	routes, err := b.store.Routes.RoutesFor(ctx, vh.ID)
	if err != nil {
		return nil, wrapBuildErr("routes for virtual host "+vh.Name, err)
	}

	pbRoutes := make([]*routepb.Route, 0, len(routes))
	for _, rt := range routes {
		perFilter, err := resolution.typedPerFilterConfig(rc.ID, vh.ID, rt.ID)
		if err != nil {
			return nil, wrapBuildErr("route "+rt.Name+" filter config", err)
		}
		pbRoutes = append(pbRoutes, &routepb.Route{
			Name:                 rt.Name,
			Match:                buildRouteMatch(rt),
			Action:               buildRouteAction(rt),
			TypedPerFilterConfig: perFilter,
		})
	}

	vhostPerFilter, err := resolution.typedPerFilterConfig(rc.ID, vh.ID, "")
	if err != nil {
		return nil, wrapBuildErr("virtual host "+vh.Name+" filter config", err)
	}

	return &routepb.VirtualHost{
		Name:                 vh.Name,
		Domains:              vh.Domains,
		Routes:               pbRoutes,
		TypedPerFilterConfig: vhostPerFilter,
	}, nil
}

func buildRouteMatch(rt model.Route) *routepb.RouteMatch {
	switch rt.MatchType {
	case model.MatchExact:
		return &routepb.RouteMatch{PathSpecifier: &routepb.RouteMatch_Path{Path: rt.PathPattern}}
	case model.MatchRegex:
		return &routepb.RouteMatch{PathSpecifier: &routepb.RouteMatch_SafeRegex{
			SafeRegex: &matcherpb.RegexMatcher{Regex: rt.PathPattern},
		}}
	default: // prefix and any unrecognized type fall back to prefix matching
		return &routepb.RouteMatch{PathSpecifier: &routepb.RouteMatch_Prefix{Prefix: rt.PathPattern}}
	}
}

func buildRouteAction(rt model.Route) *routepb.Route_Route {
	return &routepb.Route_Route{
		Route: &routepb.RouteAction{
			ClusterSpecifier: &routepb.RouteAction_Cluster{Cluster: rt.ClusterName},
		},
	}
}
