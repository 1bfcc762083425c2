package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/tjfontaine/enterprise-crm-gateway/internal/auth"
	"github.com/tjfontaine/enterprise-crm-gateway/internal/domain"
)

type apiKeyContextKey struct{}

// AuthMiddleware validates the X-API-Key header against active stored keys
// and injects the key record into the request context.
// If the authenticator is nil, the middleware is a no-op.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authenticator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				WriteError(w, r, domain.ErrAuthentication("Missing API key").WithCode(domain.ErrorCodeInvalidAPIKey))
				return
			}

			k, err := authenticator.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				if errors.Is(err, domain.ErrInvalidAPIKey) {
					WriteError(w, r, domain.ErrAuthentication("Invalid API key").WithCode(domain.ErrorCodeInvalidAPIKey))
					return
				}
				WriteError(w, r, err)
				return
			}

			AddLogField(r.Context(), "api_key_label", k.Label)
			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, k)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAPIKey retrieves the authenticated key from context.
// Returns nil if no key is set.
func GetAPIKey(ctx context.Context) *domain.APIKey {
	if k, ok := ctx.Value(apiKeyContextKey{}).(*domain.APIKey); ok {
		return k
	}
	return nil
}
