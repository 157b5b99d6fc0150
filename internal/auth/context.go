// ABOUTME: Authentication context for tracking the session identity through handlers
// ABOUTME: Provides WithAuth/FromContext for propagating token claims via context

package auth

import (
	"context"
	"time"
)

// AuthContext holds the identity extracted from a validated session token.
type AuthContext struct {
	Subject   string // username the session was issued to
	AgentID   string // agent id bound into the token at issuance
	ExpiresAt time.Time
}

type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

func contextFromClaims(claims *Claims) *AuthContext {
	ac := &AuthContext{Subject: claims.Subject, AgentID: claims.AgentID}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}
	return ac
}
