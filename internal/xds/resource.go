package xds

import (
	clusterpb "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	endpointpb "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listenerpb "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	routepb "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	tlsv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// resourceName returns the xDS resource name (the key Envoy subscribes by)
// for one of the five built protobuf types. ClusterLoadAssignment is the
// one family whose Envoy-assigned name field isn't called Name.
func resourceName(res types.Resource) string {
	switch v := res.(type) {
	case *clusterpb.Cluster:
		return v.GetName()
	case *endpointpb.ClusterLoadAssignment:
		return v.GetClusterName()
	case *listenerpb.Listener:
		return v.GetName()
	case *routepb.RouteConfiguration:
		return v.GetName()
	case *tlsv3.Secret:
		return v.GetName()
	default:
		return ""
	}
}

func toAny(resources []types.Resource) ([]*anypb.Any, error) {
	out := make([]*anypb.Any, 0, len(resources))
	for _, r := range resources {
		a, err := anypb.New(r.(proto.Message))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func filterBySubscription(resources []types.Resource, t *typeTracker) []types.Resource {
	if t.wildcard {
		return resources
	}
	out := make([]types.Resource, 0, len(resources))
	for _, r := range resources {
		if t.interested(resourceName(r)) {
			out = append(out, r)
		}
	}
	return out
}
