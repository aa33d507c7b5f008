package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/handlers/userctx"
	"github.com/nkiryanov/kglow/internal/models"
)

const bearerPrefix = "Bearer "

type tokenParser interface {
	ParseAccess(access string) (models.Principal, error)
}

// AuthMiddleware puts the principal from 'Authorization: Bearer <jwt>' into the request context
func AuthMiddleware(tp tokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			principal, err := tp.ParseAccess(strings.TrimSpace(header[len(bearerPrefix):]))
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole has to be applied after AuthMiddleware
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := userctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if principal.Role != role {
				render.ServiceError(w, "Permission denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
