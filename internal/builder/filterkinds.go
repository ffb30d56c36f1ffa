package builder

import (
	"fmt"

	extauthz "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_authz/v3"
	headermutation "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/header_mutation/v3"
	jwtauthn "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/jwt_authn/v3"
	localratelimit "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/rajeevramani/flowplane/internal/errs"
)

// filterKind describes one supported HTTP filter family: its registered
// Envoy filter name and a factory for a zero-value typed config proto that
// a stored filter's config_json (or an attachment's override_json) can be
// unmarshaled into via protojson.
type filterKind struct {
	httpFilterName string
	newConfig      func() proto.Message
}

// filterKinds is the closed set of HTTP filter kinds this control plane
// understands (spec.md §3 Filter.Kind examples). A Filter row naming any
// other kind fails to build with errs.Build rather than being silently
// skipped, since an unrecognized filter attached to live traffic is a
// configuration error, not a no-op.
var filterKinds = map[string]filterKind{
	"local_rate_limit": {
		httpFilterName: "envoy.filters.http.local_ratelimit",
		newConfig:      func() proto.Message { return &localratelimit.LocalRateLimit{} },
	},
	"jwt_auth": {
		httpFilterName: "envoy.filters.http.jwt_authn",
		newConfig:      func() proto.Message { return &jwtauthn.JwtAuthentication{} },
	},
	"header_mutation": {
		httpFilterName: "envoy.filters.http.header_mutation",
		newConfig:      func() proto.Message { return &headermutation.HeaderMutation{} },
	},
	"ext_authz": {
		httpFilterName: "envoy.filters.http.ext_authz",
		newConfig:      func() proto.Message { return &extauthz.ExtAuthz{} },
	},
}

func lookupFilterKind(kind string) (filterKind, error) {
	fk, ok := filterKinds[kind]
	if !ok {
		return filterKind{}, fmt.Errorf("%w: unrecognized filter kind %q", errs.Build, kind)
	}
	return fk, nil
}

// parseFilterConfig unmarshals JSON (either a Filter's base config_json or
// a FilterAttachment's override_json) into a fresh instance of kind's typed
// config proto.
func parseFilterConfig(kind string, configJSON []byte) (proto.Message, error) {
	fk, err := lookupFilterKind(kind)
	if err != nil {
		return nil, err
	}
	msg := fk.newConfig()
	if len(configJSON) == 0 {
		return msg, nil
	}
	if err := protojson.Unmarshal(configJSON, msg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s config: %v", errs.Build, kind, err)
	}
	return msg, nil
}
