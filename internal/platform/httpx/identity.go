package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Header names carrying the caller identity established by the upstream auth layer.
const (
	HeaderOrganization = "X-Organization-ID"
	HeaderActor        = "X-Actor-ID"
)

// Identity copies the organization and actor headers into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(HeaderOrganization)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+HeaderOrganization)
				return
			}
			ctx = shared.ContextWithOrganization(ctx, id)
		}
		if raw := strings.TrimSpace(r.Header.Get(HeaderActor)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+HeaderActor)
				return
			}
			ctx = shared.ContextWithActor(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Tenant returns the organization and actor bound to the request.
// The organization is mandatory; the actor may be nil for system callers.
func Tenant(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	org, ok := shared.OrganizationFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: missing %s", ErrUnauthorized, HeaderOrganization)
	}
	actor, _ := shared.ActorFromContext(r.Context())
	return org, actor, nil
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", ErrValidation, name)
	}
	return &v, nil
}

// PathUUID parses a uuid path value already extracted by the router.
func PathUUID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrValidation, name)
	}
	return id, nil
}
