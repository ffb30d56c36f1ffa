package cache

import (
	"testing"

	clusterpb "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	"github.com/stretchr/testify/require"
)

func clusterResources(names ...string) []types.Resource {
	out := make([]types.Resource, 0, len(names))
	for _, n := range names {
		out = append(out, &clusterpb.Cluster{Name: n})
	}
	return out
}

func TestSwapReportsChangeOnFirstWrite(t *testing.T) {
	c := New()
	changed, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)
	require.True(t, changed)

	snap, ok := c.Get("team-a", "cluster")
	require.True(t, ok)
	require.Equal(t, "1", snap.Version)
	require.Len(t, snap.Resources, 1)
}

func TestSwapIsNoOpWhenContentIsIdentical(t *testing.T) {
	c := New()
	_, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)

	changed, err := c.Swap("team-a", "cluster", "2", clusterResources("foo"))
	require.NoError(t, err)
	require.False(t, changed, "identical resource bytes must not bump the version seen by Get")

	snap, ok := c.Get("team-a", "cluster")
	require.True(t, ok)
	require.Equal(t, "1", snap.Version, "version string from the no-op swap must not overwrite the prior snapshot")
}

func TestSwapIsolatesTeamsAndTypes(t *testing.T) {
	c := New()
	_, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)

	_, ok := c.Get("team-b", "cluster")
	require.False(t, ok, "a swap for one team must not populate another team's slot")

	_, ok = c.Get("team-a", "listener")
	require.False(t, ok, "a swap for one type URL must not populate another type's slot")
}

func TestSubscribeReceivesBumpOnChange(t *testing.T) {
	c := New()
	bumps, unsubscribe := c.Subscribe()
	defer unsubscribe()

	changed, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)
	require.True(t, changed)

	select {
	case b := <-bumps:
		require.Equal(t, Bump{Team: "team-a", TypeURL: "cluster"}, b)
	default:
		t.Fatal("expected a bump notification after a real content change")
	}
}

func TestSubscribeCoalescesBurstsWithoutBlockingSwap(t *testing.T) {
	c := New()
	bumps, unsubscribe := c.Subscribe()
	defer unsubscribe()

	_, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)
	_, err = c.Swap("team-a", "cluster", "2", clusterResources("foo", "bar"))
	require.NoError(t, err)
	_, err = c.Swap("team-a", "cluster", "3", clusterResources("foo", "bar", "baz"))
	require.NoError(t, err)

	select {
	case <-bumps:
	default:
		t.Fatal("expected at least one coalesced bump")
	}

	snap, ok := c.Get("team-a", "cluster")
	require.True(t, ok)
	require.Equal(t, "3", snap.Version, "a subscriber waking on a coalesced bump must see the latest snapshot, not an intermediate one")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := New()
	bumps, unsubscribe := c.Subscribe()
	unsubscribe()

	_, err := c.Swap("team-a", "cluster", "1", clusterResources("foo"))
	require.NoError(t, err)

	select {
	case b, ok := <-bumps:
		require.False(t, ok, "unexpected bump delivered after unsubscribe: %+v", b)
	default:
	}
}
