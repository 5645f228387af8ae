// internal/auth/types.go
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// WebhookTokenHeader carries the shared secret the gateway sends with every webhook.
const WebhookTokenHeader = "asaas-access-token"

const tokenIssuer = "payments-core"

// Claims of an internal bearer token.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Context keys for middleware
type contextKey string

const ClaimsContextKey contextKey = "claims"

// Scopes
const (
	ScopeOps           = "ops"
	ScopePaymentsRead  = "payments:read"
	ScopePaymentsWrite = "payments:write"
)

var ValidScopes = []string{
	ScopeOps,
	ScopePaymentsRead,
	ScopePaymentsWrite,
}

// Helper function to validate scopes
func ValidateScopes(scopes []string) bool {
	scopeMap := make(map[string]bool)
	for _, scope := range ValidScopes {
		scopeMap[scope] = true
	}

	for _, scope := range scopes {
		if !scopeMap[scope] {
			return false
		}
	}
	return true
}
