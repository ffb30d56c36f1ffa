package xds

import (
	"testing"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func nodeWithMetadata(fields map[string]interface{}) *corev3.Node {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		panic(err)
	}
	return &corev3.Node{Id: "dataplane-1", Metadata: s}
}

func TestTeamFromNodeUsesMetadataValue(t *testing.T) {
	node := nodeWithMetadata(map[string]interface{}{"team": "team-123"})
	require.Equal(t, "team-123", teamFromNode(node, "team", "default"))
}

func TestTeamFromNodeFallsBackWhenKeyAbsent(t *testing.T) {
	node := nodeWithMetadata(map[string]interface{}{"other": "value"})
	require.Equal(t, "default", teamFromNode(node, "team", "default"))
}

func TestTeamFromNodeFallsBackWhenMetadataNil(t *testing.T) {
	node := &corev3.Node{Id: "dataplane-1"}
	require.Equal(t, "default", teamFromNode(node, "team", "default"))
}

func TestTeamFromNodeFallsBackWhenNodeNil(t *testing.T) {
	require.Equal(t, "default", teamFromNode(nil, "team", "default"))
}

func TestTeamFromNodeFallsBackWhenValueEmpty(t *testing.T) {
	node := nodeWithMetadata(map[string]interface{}{"team": ""})
	require.Equal(t, "default", teamFromNode(node, "team", "default"))
}
