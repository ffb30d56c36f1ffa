package builder

import (
	"context"
	"time"

	clusterpb "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	corepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpointpb "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rajeevramani/flowplane/internal/model"
)

// BuildClusters returns every cluster visible to scope as an EDS-discovered
// cluster (SPEC_FULL.md §4.5 requires CDS and EDS as distinct resource
// families delivered in that order): the endpoint membership itself is
// built separately by BuildEndpoints and served over its own type URL.
func (b *Builder) BuildClusters(ctx context.Context, scope teamScope) ([]*clusterpb.Cluster, error) {
	rows, err := b.store.Clusters.ListByTeams(ctx, scope.teams, scope.includeGlobals, 0, 0)
	if err != nil {
		return nil, wrapBuildErr("clusters", err)
	}

	out := make([]*clusterpb.Cluster, 0, len(rows))
	for _, c := range rows {
		out = append(out, buildCluster(c))
	}
	return out, nil
}

// BuildEndpoints returns one ClusterLoadAssignment per cluster visible to
// scope, the EDS counterpart to BuildClusters.
func (b *Builder) BuildEndpoints(ctx context.Context, scope teamScope) ([]*endpointpb.ClusterLoadAssignment, error) {
	rows, err := b.store.Clusters.ListByTeams(ctx, scope.teams, scope.includeGlobals, 0, 0)
	if err != nil {
		return nil, wrapBuildErr("cluster endpoints", err)
	}

	out := make([]*endpointpb.ClusterLoadAssignment, 0, len(rows))
	for _, c := range rows {
		eps, err := b.store.Clusters.EndpointsFor(ctx, c.ID)
		if err != nil {
			return nil, wrapBuildErr("cluster endpoints for "+c.Name, err)
		}
		out = append(out, buildClusterLoadAssignment(c, eps))
	}
	return out, nil
}

func buildCluster(c model.Cluster) *clusterpb.Cluster {
	return &clusterpb.Cluster{
		Name: c.Name,
		ClusterDiscoveryType: &clusterpb.Cluster_Type{Type: clusterpb.Cluster_EDS},
		EdsClusterConfig: &clusterpb.Cluster_EdsClusterConfig{
			EdsConfig: &corepb.ConfigSource{
				ConfigSourceSpecifier: &corepb.ConfigSource_Ads{Ads: &corepb.AggregatedConfigSource{}},
				ResourceApiVersion:    corepb.ApiVersion_V3,
			},
			ServiceName: c.ServiceName,
		},
		ConnectTimeout: durationpb.New(5 * time.Second),
	}
}

func buildClusterLoadAssignment(c model.Cluster, endpoints []model.ClusterEndpoint) *endpointpb.ClusterLoadAssignment {
	localities := make([]*endpointpb.LocalityLbEndpoints, 0, len(endpoints))
	for _, ep := range endpoints {
		localities = append(localities, &endpointpb.LocalityLbEndpoints{
			Priority:            uint32(ep.Priority),
			LoadBalancingWeight: wrapperspb.UInt32(uint32(maxInt32(ep.Weight, 1))),
			LbEndpoints: []*endpointpb.LbEndpoint{{
				HealthStatus: healthStatus(ep.HealthStatus),
				HostIdentifier: &endpointpb.LbEndpoint_Endpoint{
					Endpoint: &endpointpb.Endpoint{
						Address: &corepb.Address{
							Address: &corepb.Address_SocketAddress{
								SocketAddress: &corepb.SocketAddress{
									Protocol: corepb.SocketAddress_TCP,
									Address:  ep.Address,
									PortSpecifier: &corepb.SocketAddress_PortValue{
										PortValue: uint32(ep.Port),
									},
								},
							},
						},
					},
				},
			}},
		})
	}

	name := c.ServiceName
	if name == "" {
		name = c.Name
	}
	return &endpointpb.ClusterLoadAssignment{
		ClusterName: name,
		Endpoints:   localities,
	}
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func healthStatus(s string) corepb.HealthStatus {
	switch s {
	case "healthy":
		return corepb.HealthStatus_HEALTHY
	case "unhealthy":
		return corepb.HealthStatus_UNHEALTHY
	case "draining":
		return corepb.HealthStatus_DRAINING
	case "degraded":
		return corepb.HealthStatus_DEGRADED
	default:
		return corepb.HealthStatus_UNKNOWN
	}
}
