package jobs

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ForEachOrganization runs fn for every organization with at most limit in flight.
// The first error cancels the remaining calls.
func ForEachOrganization(ctx context.Context, orgs []uuid.UUID, limit int, fn func(context.Context, uuid.UUID) error) error {
	if limit <= 0 {
		limit = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, org := range orgs {
		g.Go(func() error {
			return fn(gctx, org)
		})
	}
	return g.Wait()
}
