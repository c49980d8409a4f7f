package shared

import (
	"context"

	"github.com/google/uuid"
)

type actorContextKey struct{}

type organizationContextKey struct{}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id from context.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// ContextWithOrganization stores the tenant id in context.
func ContextWithOrganization(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, organizationContextKey{}, orgID)
}

// OrganizationFromContext extracts the tenant id from context.
func OrganizationFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(organizationContextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
