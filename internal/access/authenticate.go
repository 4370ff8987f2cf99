package access

import (
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// Authentication outcomes, used as the metrics label.
const (
	outcomeOK             = "ok"
	outcomeMissing        = "missing"
	outcomeInvalid        = "invalid"
	outcomeRevoked        = "revoked"
	outcomeCacheFailOpen  = "cache_fail_open"
	outcomeCacheFailClose = "cache_fail_closed"
	outcomeDenied         = "denied"
	outcomeUnknownSubject = "unknown_subject"
	outcomeError          = "error"
)

// TokenVerifier checks a signed token. *auth.TokenService implements it.
type TokenVerifier interface {
	Verify(token string, want auth.TokenType) (*auth.Claims, error)
}

// Authenticator is the edge authentication middleware.
//
// A request moves through: token present, signature valid, not expired,
// not revoked. Any failure is a 401 with a generic message. When the
// revocation cache cannot answer, the configured policy decides: fail_open
// accepts the otherwise valid token, fail_closed rejects it.
type Authenticator struct {
	tokens  TokenVerifier
	revoked auth.RevocationCache
	policy  auth.RevocationPolicy
	logger  *logging.Logger
	metrics *Metrics
}

// NewAuthenticator creates an Authenticator. revoked may be nil, in which
// case revocation is not checked. metrics may be nil.
func NewAuthenticator(tokens TokenVerifier, revoked auth.RevocationCache, policy auth.RevocationPolicy,
	logger *logging.Logger, metrics *Metrics) *Authenticator {
	return &Authenticator{
		tokens:  tokens,
		revoked: revoked,
		policy:  policy,
		logger:  logger.With("component", "authenticator"),
		metrics: metrics,
	}
}

// Middleware rejects unauthenticated requests and attaches the verified
// claims to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			a.metrics.authenticated(outcomeMissing)
			writeUnauthorised(w, msgAuthRequired)
			return
		}

		claims, err := a.tokens.Verify(token, auth.TokenAccess)
		if err != nil {
			a.metrics.authenticated(outcomeInvalid)
			a.logger.Debug("token rejected", "reason", err, "request_id", RequestIDFromContext(r.Context()))
			writeUnauthorised(w, msgInvalidToken)
			return
		}

		if a.revoked != nil {
			revoked, err := a.revoked.IsRevoked(r.Context(), token)
			switch {
			case err != nil && a.policy == auth.RevocationFailOpen:
				a.metrics.authenticated(outcomeCacheFailOpen)
				a.logger.Warn("revocation cache unavailable, accepting token",
					"policy", a.policy, "user_id", claims.UserID(), "error", err)
			case err != nil:
				a.metrics.authenticated(outcomeCacheFailClose)
				a.logger.Warn("revocation cache unavailable, rejecting token",
					"policy", a.policy, "user_id", claims.UserID(), "error", err)
				writeUnauthorised(w, msgInvalidToken)
				return
			case revoked:
				a.metrics.authenticated(outcomeRevoked)
				writeUnauthorised(w, msgInvalidToken)
				return
			}
		}

		a.metrics.authenticated(outcomeOK)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	})
}

// RequireRoles allows the request when the caller holds at least one of
// roles, otherwise 403. It must run after Authenticator.Middleware.
func RequireRoles(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeUnauthorised(w, msgAuthRequired)
				return
			}
			if len(roles) > 0 && !claims.HasAnyRole(roles...) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
