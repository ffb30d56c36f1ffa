package xds

import (
	"testing"

	clusterpb "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	endpointpb "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listenerpb "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	"github.com/stretchr/testify/require"
)

func TestResourceNameByKind(t *testing.T) {
	require.Equal(t, "foo-cluster", resourceName(&clusterpb.Cluster{Name: "foo-cluster"}))
	require.Equal(t, "foo-service", resourceName(&endpointpb.ClusterLoadAssignment{ClusterName: "foo-service"}))
	require.Equal(t, "foo-listener", resourceName(&listenerpb.Listener{Name: "foo-listener"}))
}

func TestResourceNameUnknownKindIsEmpty(t *testing.T) {
	require.Equal(t, "", resourceName(nil))
}

func TestFilterBySubscriptionWildcardReturnsAll(t *testing.T) {
	tr := newTypeTracker("cluster")
	resources := []types.Resource{
		&clusterpb.Cluster{Name: "a"},
		&clusterpb.Cluster{Name: "b"},
	}
	filtered := filterBySubscription(resources, tr)
	require.Len(t, filtered, 2)
}

func TestFilterBySubscriptionNarrowedReturnsOnlySubscribed(t *testing.T) {
	tr := newTypeTracker("cluster")
	tr.applySotWSubscription([]string{"a"})
	resources := []types.Resource{
		&clusterpb.Cluster{Name: "a"},
		&clusterpb.Cluster{Name: "b"},
	}
	filtered := filterBySubscription(resources, tr)
	require.Len(t, filtered, 1)
	require.Equal(t, "a", resourceName(filtered[0]))
}

func TestToAnyRoundTripsResourceCount(t *testing.T) {
	resources := []types.Resource{
		&clusterpb.Cluster{Name: "a"},
		&clusterpb.Cluster{Name: "b"},
	}
	anys, err := toAny(resources)
	require.NoError(t, err)
	require.Len(t, anys, 2)
}
