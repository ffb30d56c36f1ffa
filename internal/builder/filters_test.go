package builder

import (
	"testing"

	routepb "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/model"
)

func newResolution() *filterResolution {
	return &filterResolution{
		byScope:        map[string]model.FilterAttachment{},
		filterKindByID: map[string]string{"filter-1": "local_rate_limit"},
		orderedFilterIDs: []string{"filter-1"},
	}
}

func TestResolveFallsBackToRouteConfigScope(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorUseBase,
	}

	resolved, ok := r.resolve("rc-1", "filter-1", "vh-1", "rt-1")
	require.True(t, ok)
	require.Equal(t, model.LevelRouteConfig, resolved.Level)
}

func TestResolvePrefersVirtualHostOverRouteConfig(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorUseBase,
	}
	r.byScope[scopeKey(model.LevelVirtualHost, "vh-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelVirtualHost, FilterID: "filter-1", Behavior: model.BehaviorDisable,
	}

	resolved, ok := r.resolve("rc-1", "filter-1", "vh-1", "rt-1")
	require.True(t, ok)
	require.Equal(t, model.LevelVirtualHost, resolved.Level)
	require.Equal(t, model.BehaviorDisable, resolved.Behavior)
}

func TestResolvePrefersRouteOverVirtualHostAndRouteConfig(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorUseBase,
	}
	r.byScope[scopeKey(model.LevelVirtualHost, "vh-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelVirtualHost, FilterID: "filter-1", Behavior: model.BehaviorDisable,
	}
	r.byScope[scopeKey(model.LevelRoute, "rt-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRoute, FilterID: "filter-1", Behavior: model.BehaviorUseBase,
	}

	resolved, ok := r.resolve("rc-1", "filter-1", "vh-1", "rt-1")
	require.True(t, ok)
	require.Equal(t, model.LevelRoute, resolved.Level)
	require.Equal(t, model.BehaviorUseBase, resolved.Behavior)
}

func TestResolveReturnsFalseWhenNoAttachmentAtAll(t *testing.T) {
	r := newResolution()
	_, ok := r.resolve("rc-1", "filter-1", "vh-1", "rt-1")
	require.False(t, ok)
}

func TestTypedPerFilterConfigUseBaseContributesNoEntry(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorUseBase,
	}

	out, err := r.typedPerFilterConfig("rc-1", "vh-1", "rt-1")
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestTypedPerFilterConfigDisableWrapsFilterConfig(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorDisable,
	}

	out, err := r.typedPerFilterConfig("rc-1", "vh-1", "rt-1")
	require.NoError(t, err)
	require.Len(t, out, 1)

	any := out["envoy.filters.http.local_ratelimit"]
	require.NotNil(t, any)
	var fc routepb.FilterConfig
	require.NoError(t, any.UnmarshalTo(&fc))
	require.True(t, fc.Disabled)
}

func TestTypedPerFilterConfigOverrideUsesAttachmentConfig(t *testing.T) {
	r := newResolution()
	r.byScope[scopeKey(model.LevelRouteConfig, "rc-1", "filter-1")] = model.FilterAttachment{
		Level: model.LevelRouteConfig, FilterID: "filter-1", Behavior: model.BehaviorOverride,
		OverrideJSON: []byte(`{"statPrefix":"override_rl"}`),
	}

	out, err := r.typedPerFilterConfig("rc-1", "vh-1", "rt-1")
	require.NoError(t, err)
	require.Contains(t, out, "envoy.filters.http.local_ratelimit")
	require.NotEmpty(t, out["envoy.filters.http.local_ratelimit"].Value)
}

func TestTypedPerFilterConfigNoAttachmentIsSkipped(t *testing.T) {
	r := newResolution()
	out, err := r.typedPerFilterConfig("rc-1", "vh-1", "rt-1")
	require.NoError(t, err)
	require.Nil(t, out)
}
