// internal/auth/middleware.go
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/temmyjay001/payments-core/pkg/api"
)

type Middleware struct {
	authService *Service
}

func NewMiddleware(authService *Service) *Middleware {
	return &Middleware{
		authService: authService,
	}
}

// WebhookTokenMiddleware checks the gateway's shared secret header.
func (m *Middleware) WebhookTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(WebhookTokenHeader)
		if token == "" || m.authService.webhookToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(m.authService.webhookToken)) != 1 {
			m.writeUnauthorizedResponse(w, "invalid webhook token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BearerAuthMiddleware validates JWT bearer tokens for the payment and ops APIs
func (m *Middleware) BearerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.extractTokenFromHeader(r)
		if token == "" {
			m.writeUnauthorizedResponse(w, "missing authorization token")
			return
		}

		claims, err := m.authService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				m.writeUnauthorizedResponse(w, "token has expired")
				return
			}
			m.writeUnauthorizedResponse(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScopes middleware to check if the token has required scopes
func (m *Middleware) RequireScopes(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				m.writeForbiddenResponse(w, "bearer token required")
				return
			}

			if !m.hasRequiredScopes(claims.Scopes, requiredScopes) {
				m.writeForbiddenResponse(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Helper methods

func (m *Middleware) extractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

func (m *Middleware) hasRequiredScopes(tokenScopes, requiredScopes []string) bool {
	scopeMap := make(map[string]bool)
	for _, scope := range tokenScopes {
		scopeMap[scope] = true
	}

	for _, requiredScope := range requiredScopes {
		if !scopeMap[requiredScope] {
			return false
		}
	}

	return true
}

func (m *Middleware) writeUnauthorizedResponse(w http.ResponseWriter, message string) {
	api.WriteUnauthorizedResponse(w, message)
}

func (m *Middleware) writeForbiddenResponse(w http.ResponseWriter, message string) {
	api.WriteForbiddenResponse(w, message)
}

func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*Claims)
	return claims, ok
}
