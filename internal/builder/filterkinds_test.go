package builder

import (
	"errors"
	"testing"

	localratelimit "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/errs"
)

func TestLookupFilterKindKnownKinds(t *testing.T) {
	for kind, wantName := range map[string]string{
		"local_rate_limit": "envoy.filters.http.local_ratelimit",
		"jwt_auth":         "envoy.filters.http.jwt_authn",
		"header_mutation":  "envoy.filters.http.header_mutation",
		"ext_authz":        "envoy.filters.http.ext_authz",
	} {
		fk, err := lookupFilterKind(kind)
		require.NoError(t, err)
		require.Equal(t, wantName, fk.httpFilterName)
	}
}

func TestLookupFilterKindUnknownFailsWithBuildError(t *testing.T) {
	_, err := lookupFilterKind("something_made_up")
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}

func TestParseFilterConfigEmptyJSONReturnsZeroValue(t *testing.T) {
	msg, err := parseFilterConfig("local_rate_limit", nil)
	require.NoError(t, err)
	_, ok := msg.(*localratelimit.LocalRateLimit)
	require.True(t, ok)
}

func TestParseFilterConfigUnmarshalsJSON(t *testing.T) {
	cfgJSON := []byte(`{"statPrefix":"checkout_rl"}`)
	msg, err := parseFilterConfig("local_rate_limit", cfgJSON)
	require.NoError(t, err)
	rl, ok := msg.(*localratelimit.LocalRateLimit)
	require.True(t, ok)
	require.Equal(t, "checkout_rl", rl.StatPrefix)
}

func TestParseFilterConfigInvalidJSONFails(t *testing.T) {
	_, err := parseFilterConfig("local_rate_limit", []byte("not json"))
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}

func TestParseFilterConfigUnknownKindFails(t *testing.T) {
	_, err := parseFilterConfig("nonexistent", nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, errs.Build))
}
