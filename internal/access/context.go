package access

import (
	"context"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	ctxKeyClaims      contextKey = "claims"
	ctxKeyAccessToken contextKey = "access_token"
	ctxKeyRequestID   contextKey = "request_id"
)

// WithClaims attaches verified claims and the raw access token to ctx.
func WithClaims(ctx context.Context, claims *auth.Claims, token string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClaims, claims)
	return context.WithValue(ctx, ctxKeyAccessToken, token)
}

// ClaimsFromContext returns the claims set by the Authenticator, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxKeyClaims).(*auth.Claims) //nolint:errcheck // nil when absent
	return c
}

// AccessTokenFromContext returns the raw bearer token that authenticated
// the request, or "".
func AccessTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ctxKeyAccessToken).(string) //nolint:errcheck // empty when absent
	return t
}

// RequestIDFromContext returns the request id set by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string) //nolint:errcheck // empty when absent
	return id
}
