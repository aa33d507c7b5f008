package userctx

import (
	"context"

	"github.com/nkiryanov/kglow/internal/models"
)

type ctxKey string

const principalKey ctxKey = "principal"

// Create a new context with the authenticated caller
func New(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Extract the authenticated caller from the context
func FromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}
