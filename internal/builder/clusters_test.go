package builder

import (
	"testing"

	clusterpb "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/model"
)

func TestBuildClusterIsEDSDiscovered(t *testing.T) {
	c := model.Cluster{Name: "checkout", ServiceName: "checkout-svc"}
	out := buildCluster(c)

	require.Equal(t, "checkout", out.Name)
	require.Equal(t, clusterpb.Cluster_EDS, out.GetType())
	require.Equal(t, "checkout-svc", out.GetEdsClusterConfig().GetServiceName())
}

func TestBuildClusterLoadAssignmentUsesServiceNameWhenSet(t *testing.T) {
	c := model.Cluster{Name: "checkout", ServiceName: "checkout-svc"}
	cla := buildClusterLoadAssignment(c, nil)
	require.Equal(t, "checkout-svc", cla.ClusterName)
}

func TestBuildClusterLoadAssignmentFallsBackToClusterName(t *testing.T) {
	c := model.Cluster{Name: "checkout"}
	cla := buildClusterLoadAssignment(c, nil)
	require.Equal(t, "checkout", cla.ClusterName)
}

func TestBuildClusterLoadAssignmentEncodesEndpoints(t *testing.T) {
	c := model.Cluster{Name: "checkout", ServiceName: "checkout-svc"}
	endpoints := []model.ClusterEndpoint{
		{Address: "10.0.0.1", Port: 8080, Weight: 5, Priority: 0, HealthStatus: "healthy"},
		{Address: "10.0.0.2", Port: 8080, Weight: 1, Priority: 1, HealthStatus: "unhealthy"},
	}
	cla := buildClusterLoadAssignment(c, endpoints)
	require.Len(t, cla.Endpoints, 2)

	first := cla.Endpoints[0]
	require.Equal(t, uint32(0), first.Priority)
	require.Equal(t, uint32(5), first.LoadBalancingWeight.GetValue())
	addr := first.LbEndpoints[0].GetEndpoint().GetAddress().GetSocketAddress()
	require.Equal(t, "10.0.0.1", addr.Address)
	require.Equal(t, uint32(8080), addr.GetPortValue())
}

func TestHealthStatusMapping(t *testing.T) {
	cases := map[string]string{
		"healthy":   "HEALTHY",
		"unhealthy": "UNHEALTHY",
		"draining":  "DRAINING",
		"degraded":  "DEGRADED",
		"":          "UNKNOWN",
		"garbage":   "UNKNOWN",
	}
	for in, want := range cases {
		require.Equal(t, want, healthStatus(in).String(), "input %q", in)
	}
}

func TestMaxInt32PreservesWeightFloor(t *testing.T) {
	require.Equal(t, int32(1), maxInt32(0, 1))
	require.Equal(t, int32(5), maxInt32(5, 1))
}
