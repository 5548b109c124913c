package grpcserver

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/tenantauth/internal/model"
)

type ctxKey string

const (
	tenantKey ctxKey = "ta.tenant"
	claimsKey ctxKey = "ta.claims"
)

// WithTenant stores the tenant resolved from the API key in context.
func WithTenant(ctx context.Context, t *model.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// TenantFromCtx fetches the resolved tenant from context.
func TenantFromCtx(ctx context.Context) (*model.Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(*model.Tenant)
	return t, ok && t != nil
}

// WithClaims stores verified access-token claims in context.
func WithClaims(ctx context.Context, c model.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches access-token claims from context.
func ClaimsFromCtx(ctx context.Context) (model.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(model.Claims)
	return c, ok
}

// UserIDFromCtx fetches the authenticated user ID from context.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromCtx(ctx)
	if !ok || c.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return c.UserID, true
}
