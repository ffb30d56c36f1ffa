package builder

import (
	"context"
	"fmt"

	routepb "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// filterResolution holds every attachment recorded under one route
// configuration, indexed for the top-down scope lookup that spec.md §4.2's
// filter inheritance algorithm describes: a route-level attachment beats a
// virtual-host attachment, which beats the route-config default, for the
// same filter.
type filterResolution struct {
	// orderedFilterIDs lists every filter reachable anywhere under the
	// route configuration (route_config, virtual_host, or route scope),
	// in attachment order (filter_order, then attachment id); auto-filter
	// insertion into a listener's HTTP filter chain follows this order.
	orderedFilterIDs []string
	// anchorAttachment records, per filter id, the first attachment (in
	// orderedFilterIDs order) that introduced that filter under this route
	// configuration. It is the attachment whose scope the listener
	// auto-filter bookkeeping row is stamped with.
	anchorAttachment map[string]model.FilterAttachment
	byScope          map[string]model.FilterAttachment
	filterKindByID   map[string]string
}

func scopeKey(level model.AttachmentLevel, anchorID, filterID string) string {
	return string(level) + ":" + anchorID + ":" + filterID
}

// loadFilterResolution reads every attachment under routeConfigID and looks
// up each referenced filter's Kind once.
func loadFilterResolution(ctx context.Context, fr *store.FilterRepository, routeConfigID string) (*filterResolution, error) {
	attachments, err := fr.AttachmentsForRouteConfig(ctx, routeConfigID)
	if err != nil {
		return nil, err
	}

	res := &filterResolution{
		byScope:          make(map[string]model.FilterAttachment),
		filterKindByID:   make(map[string]string),
		anchorAttachment: make(map[string]model.FilterAttachment),
	}
	seen := make(map[string]bool)
	for _, a := range attachments {
		var anchor string
		switch a.Level {
		case model.LevelRouteConfig:
			anchor = routeConfigID
		case model.LevelVirtualHost:
			anchor = a.VirtualHostID
		case model.LevelRoute:
			anchor = a.RouteID
		}
		res.byScope[scopeKey(a.Level, anchor, a.FilterID)] = a

		// A filter is reachable under this route configuration as soon as
		// it has an attachment at any scope (route_config, virtual_host,
		// or route) anchored here; a route_config-scope attachment is not
		// required (spec.md §4.2: "if a route-config-scope attachment
		// exists, apply its settings" — it's optional, not a gate).
		if !seen[a.FilterID] {
			seen[a.FilterID] = true
			res.orderedFilterIDs = append(res.orderedFilterIDs, a.FilterID)
			res.anchorAttachment[a.FilterID] = a
		}
		if _, ok := res.filterKindByID[a.FilterID]; !ok {
			f, err := fr.GetByID(ctx, a.FilterID)
			if err != nil {
				return nil, err
			}
			res.filterKindByID[a.FilterID] = f.Kind
		}
	}
	return res, nil
}

// resolve returns the attachment governing filterID for a specific
// (virtual host, route) pair, walking route_config -> virtual_host -> route
// and keeping the most specific match.
func (r *filterResolution) resolve(routeConfigID, filterID, virtualHostID, routeID string) (model.FilterAttachment, bool) {
	resolved, ok := r.byScope[scopeKey(model.LevelRouteConfig, routeConfigID, filterID)]
	if vh, exists := r.byScope[scopeKey(model.LevelVirtualHost, virtualHostID, filterID)]; exists {
		resolved, ok = vh, true
	}
	if rt, exists := r.byScope[scopeKey(model.LevelRoute, routeID, filterID)]; exists {
		resolved, ok = rt, true
	}
	return resolved, ok
}

// typedPerFilterConfig builds the TypedPerFilterConfig map for one route or
// virtual host, given the resolved attachment for every filter reachable at
// that scope. use_base contributes no entry (the HCM-level filter config
// applies unchanged); disable wraps envoy.config.route.v3.FilterConfig with
// Disabled=true; override substitutes the attachment's own typed config.
func (r *filterResolution) typedPerFilterConfig(routeConfigID, virtualHostID, routeID string) (map[string]*anypb.Any, error) {
	out := make(map[string]*anypb.Any)
	for _, filterID := range r.orderedFilterIDs {
		resolved, ok := r.resolve(routeConfigID, filterID, virtualHostID, routeID)
		if !ok {
			continue
		}
		kind := r.filterKindByID[filterID]
		fk, err := lookupFilterKind(kind)
		if err != nil {
			return nil, err
		}

		switch resolved.Behavior {
		case model.BehaviorUseBase, "":
			continue
		case model.BehaviorDisable:
			any, err := anypb.New(&routepb.FilterConfig{Disabled: true})
			if err != nil {
				return nil, fmt.Errorf("%w: encoding disabled filter config: %v", errs.Build, err)
			}
			out[fk.httpFilterName] = any
		case model.BehaviorOverride:
			cfg, err := parseFilterConfig(kind, resolved.OverrideJSON)
			if err != nil {
				return nil, err
			}
			any, err := anypb.New(cfg)
			if err != nil {
				return nil, fmt.Errorf("%w: encoding override filter config: %v", errs.Build, err)
			}
			out[fk.httpFilterName] = any
		default:
			return nil, fmt.Errorf("%w: unknown filter behavior %q", errs.Build, resolved.Behavior)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
