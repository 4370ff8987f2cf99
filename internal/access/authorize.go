package access

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// PermissionChecker answers permission questions. *auth.Resolver
// implements it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, resource string, action auth.Action) (bool, error)
	HasPermissionOrOwnership(ctx context.Context, userID, resource string, action auth.Action, owner func() string) (bool, error)
}

// OwnerExtractor returns the id of the user owning the addressed resource.
type OwnerExtractor func(r *http.Request) string

// URLParamOwner reads the owner id from a chi URL parameter.
func URLParamOwner(name string) OwnerExtractor {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// Authorizer is the service-level authorization middleware. It runs after
// an authentication step that put claims in the context.
//
// Outcomes: no claims 401; permission denied 403; subject no longer in
// the store 401 with code subject_not_found; any other resolver error 503.
// A store failure never grants access.
type Authorizer struct {
	checker PermissionChecker
	logger  *logging.Logger
	metrics *Metrics
}

// NewAuthorizer creates an Authorizer. metrics may be nil.
func NewAuthorizer(checker PermissionChecker, logger *logging.Logger, metrics *Metrics) *Authorizer {
	return &Authorizer{
		checker: checker,
		logger:  logger.With("component", "authorizer"),
		metrics: metrics,
	}
}

// Require allows the request when the caller holds (resource, action) or
// (resource, manage).
func (a *Authorizer) Require(resource string, action auth.Action) Middleware {
	return a.require(resource, action, nil)
}

// RequireOrOwner is Require, additionally allowing the caller when owner
// returns the caller's own id.
func (a *Authorizer) RequireOrOwner(resource string, action auth.Action, owner OwnerExtractor) Middleware {
	if owner == nil {
		panic("access: RequireOrOwner needs an owner extractor")
	}
	return a.require(resource, action, owner)
}

func (a *Authorizer) require(resource string, action auth.Action, owner OwnerExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeUnauthorised(w, msgAuthRequired)
				return
			}
			userID := claims.UserID()

			var ok bool
			var err error
			if owner != nil {
				ok, err = a.checker.HasPermissionOrOwnership(r.Context(), userID, resource, action,
					func() string { return owner(r) })
			} else {
				ok, err = a.checker.HasPermission(r.Context(), userID, resource, action)
			}

			switch {
			case errors.Is(err, auth.ErrSubjectNotFound):
				a.metrics.authorised(resource, string(action), outcomeUnknownSubject)
				WriteError(w, http.StatusUnauthorized, CodeSubjectNotFound, "user no longer exists")
			case err != nil:
				a.metrics.authorised(resource, string(action), outcomeError)
				a.logger.Error("permission check failed, denying",
					"user_id", userID,
					"resource", resource,
					"action", action,
					"error", err,
					"request_id", RequestIDFromContext(r.Context()),
				)
				WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "authorisation temporarily unavailable")
			case !ok:
				a.metrics.authorised(resource, string(action), outcomeDenied)
				writeForbidden(w)
			default:
				a.metrics.authorised(resource, string(action), outcomeOK)
				next.ServeHTTP(w, r)
			}
		})
	}
}
