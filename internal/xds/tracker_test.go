package xds

import (
	"testing"

	resourcev3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/require"
)

func TestNextNonceIsUniquePerTracker(t *testing.T) {
	tr := newTypeTracker("cluster")
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := tr.nextNonce()
		require.False(t, seen[n], "nonce %q repeated", n)
		seen[n] = true
	}
}

func TestNextNonceDiffersAcrossTrackers(t *testing.T) {
	a := newTypeTracker("cluster")
	b := newTypeTracker("listener")
	require.NotEqual(t, a.nextNonce(), b.nextNonce())
}

func TestNewTrackerStartsWildcard(t *testing.T) {
	tr := newTypeTracker("cluster")
	require.True(t, tr.interested("anything"))
}

func TestApplySotWSubscriptionNarrowsInterest(t *testing.T) {
	tr := newTypeTracker("cluster")
	changed := tr.applySotWSubscription([]string{"foo", "bar"})
	require.True(t, changed)
	require.True(t, tr.interested("foo"))
	require.False(t, tr.interested("baz"))
}

func TestApplySotWSubscriptionIsIdempotent(t *testing.T) {
	tr := newTypeTracker("cluster")
	require.True(t, tr.applySotWSubscription([]string{"foo", "bar"}))
	require.False(t, tr.applySotWSubscription([]string{"foo", "bar"}), "resending the same name set must not report a change")
	require.False(t, tr.applySotWSubscription([]string{"bar", "foo"}), "order must not matter")
}

func TestApplySotWSubscriptionBackToWildcard(t *testing.T) {
	tr := newTypeTracker("cluster")
	tr.applySotWSubscription([]string{"foo"})
	changed := tr.applySotWSubscription(nil)
	require.True(t, changed)
	require.True(t, tr.interested("anything-else"))
}

func TestApplyDeltaSubscriptionAddAndRemove(t *testing.T) {
	tr := newTypeTracker("cluster")
	changed := tr.applyDeltaSubscription([]string{"foo"}, nil)
	require.True(t, changed)
	require.True(t, tr.interested("foo"))
	require.False(t, tr.interested("bar"))

	changed = tr.applyDeltaSubscription(nil, []string{"foo"})
	require.True(t, changed)
	require.False(t, tr.interested("foo"))
}

func TestApplyDeltaSubscriptionNoOpWhenAlreadyPresent(t *testing.T) {
	tr := newTypeTracker("cluster")
	tr.applyDeltaSubscription([]string{"foo"}, nil)
	changed := tr.applyDeltaSubscription([]string{"foo"}, nil)
	require.False(t, changed)
}

func TestCanonicalOrderPutsClustersAndEndpointsBeforeListenersAndRoutes(t *testing.T) {
	index := make(map[string]int, len(canonicalOrder))
	for i, t := range canonicalOrder {
		index[t] = i
	}
	require.Less(t, index[resourcev3.ClusterType], index[resourcev3.ListenerType])
	require.Less(t, index[resourcev3.EndpointType], index[resourcev3.RouteType])
}
