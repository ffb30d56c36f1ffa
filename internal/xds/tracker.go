package xds

import (
	resourcev3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
)

// canonicalOrder is the type-URL push order SPEC_FULL.md §4.5/§5 requires
// within one stream when a bump affects more than one type in the same
// wake cycle: clusters and endpoints before the listeners/routes that
// reference them, and secrets last.
var canonicalOrder = []string{
	resourcev3.ClusterType,
	resourcev3.EndpointType,
	resourcev3.ListenerType,
	resourcev3.RouteType,
	resourcev3.SecretType,
}

// typeTracker is the per-(stream,type_url) subscription and ACK/NACK state
// of SPEC_FULL.md §4.5: the subscribed resource set, the nonce/version of
// the last response sent, the last version the client acknowledged, and
// the flow-control gate that withholds the next send until that response
// is ACKed or NACKed.
//
// sentVersions is populated only for Delta streams: it maps resource name
// to the system version string at which that name was last sent, so the
// push loop can compute added/modified/removed without re-deriving it from
// the cache's internal history.
type typeTracker struct {
	typeURL string

	wildcard   bool
	subscribed map[string]struct{}

	lastSentVersion  string
	lastSentNonce    string
	lastAckedVersion string
	pendingAck       bool
	subsDirty        bool

	nonceSeq uint64

	sentVersions map[string]string
}

func newTypeTracker(typeURL string) *typeTracker {
	return &typeTracker{typeURL: typeURL, wildcard: true, subscribed: map[string]struct{}{}}
}

// nextNonce mints a fresh, stream-and-type-unique nonce. Nonces only need
// to be unique within one stream+type pair; a monotonic per-tracker
// counter combined with the type URL satisfies that and is trivially
// collision-free, unlike a random token that would need a uniqueness
// check.
func (t *typeTracker) nextNonce() string {
	t.nonceSeq++
	return t.typeURL + "-" + itoa(t.nonceSeq)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// applySotWSubscription updates the tracker's resource-name interest set
// from a SotW DiscoveryRequest's ResourceNames (empty means wildcard),
// reporting whether the effective subscription changed.
func (t *typeTracker) applySotWSubscription(names []string) bool {
	wildcard := len(names) == 0
	newSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		newSet[n] = struct{}{}
	}
	if wildcard == t.wildcard && sameSet(newSet, t.subscribed) {
		return false
	}
	t.wildcard = wildcard
	t.subscribed = newSet
	return true
}

// applyDeltaSubscription folds a DeltaDiscoveryRequest's subscribe/
// unsubscribe lists into the tracker's interest set. An empty subscribe
// list on the very first request (no prior subscriptions at all) means
// wildcard, matching SotW's convention.
func (t *typeTracker) applyDeltaSubscription(subscribe, unsubscribe []string) bool {
	changed := false
	for _, n := range subscribe {
		if t.wildcard {
			t.wildcard = false
		}
		if _, ok := t.subscribed[n]; !ok {
			t.subscribed[n] = struct{}{}
			changed = true
		}
	}
	for _, n := range unsubscribe {
		if _, ok := t.subscribed[n]; ok {
			delete(t.subscribed, n)
			changed = true
		}
	}
	return changed
}

// sentResourceNames returns the resource names carried by the last Delta
// response this tracker sent (the keys of sentVersions), for persisting as
// the rejected-resource list on a NACK: a Delta ACK/NACK round-trip's
// ResourceNamesSubscribe is the incremental subscribe diff, normally empty
// on a pure ack/nack, so it cannot stand in for what was actually rejected.
func (t *typeTracker) sentResourceNames() []string {
	names := make([]string, 0, len(t.sentVersions))
	for name := range t.sentVersions {
		names = append(names, name)
	}
	return names
}

func (t *typeTracker) interested(name string) bool {
	if t.wildcard {
		return true
	}
	_, ok := t.subscribed[name]
	return ok
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
