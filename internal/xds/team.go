package xds

import (
	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
)

// teamFromNode derives the tenant a stream is scoped to from the
// connecting Envoy's node metadata, per SPEC_FULL.md §4.5 / §6 "Node
// identity": the well-known metadata key names the team's stable id
// directly (operators configure node metadata with the team id Flowplane
// assigned at team-creation time, not a human display name, so team
// derivation never needs a database round trip on the hot path). An
// absent or empty key falls back to defaultTeam.
func teamFromNode(node *corev3.Node, metadataKey, defaultTeam string) string {
	if node == nil || node.GetMetadata() == nil {
		return defaultTeam
	}
	fields := node.GetMetadata().GetFields()
	v, ok := fields[metadataKey]
	if !ok {
		return defaultTeam
	}
	s := v.GetStringValue()
	if s == "" {
		return defaultTeam
	}
	return s
}
