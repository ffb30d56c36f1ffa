package watch

import (
	"context"

	"github.com/envoyproxy/go-control-plane/pkg/cache/types"

	"github.com/rajeevramani/flowplane/internal/builder"
)

// The adapters below widen each typed Build*ForTeam result to
// []types.Resource, the shape cache.Swap stores. go-control-plane's
// types.Resource is just proto.Message, so every concrete builder output
// already satisfies it; the loop only exists to change the slice's static
// element type.

func buildClusters(ctx context.Context, b *builder.Builder, team *string) ([]types.Resource, error) {
	rows, err := b.BuildClustersForTeam(ctx, team)
	if err != nil {
		return nil, err
	}
	out := make([]types.Resource, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func buildEndpoints(ctx context.Context, b *builder.Builder, team *string) ([]types.Resource, error) {
	rows, err := b.BuildEndpointsForTeam(ctx, team)
	if err != nil {
		return nil, err
	}
	out := make([]types.Resource, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func buildListeners(ctx context.Context, b *builder.Builder, team *string) ([]types.Resource, error) {
	rows, err := b.BuildListenersForTeam(ctx, team)
	if err != nil {
		return nil, err
	}
	out := make([]types.Resource, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func buildRoutes(ctx context.Context, b *builder.Builder, team *string) ([]types.Resource, error) {
	rows, err := b.BuildRouteConfigurationsForTeam(ctx, team)
	if err != nil {
		return nil, err
	}
	out := make([]types.Resource, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func buildSecrets(ctx context.Context, b *builder.Builder, team *string) ([]types.Resource, error) {
	if team == nil {
		return nil, nil // secrets are always team-owned; the global slot is always empty
	}
	rows, err := b.BuildSecrets(ctx, *team)
	if err != nil {
		return nil, err
	}
	out := make([]types.Resource, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}
