package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(access.CORS(s.cfg.CORS))
	r.Use(access.RequestID)
	r.Use(access.Logging(s.logger))
	r.Use(s.metrics.Instrument)
	r.Use(access.Recovery(s.logger))
	r.Use(access.BodyLimit(access.MaxRequestBodySize))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

		r.Route("/auth", func(r chi.Router) {
			r.With(s.rateLimited).Post("/login", s.handleLogin)
			r.With(s.rateLimited).Post("/register", s.handleRegister)
			r.Post("/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.authn.Middleware)
				r.Post("/logout", s.handleLogout)
				r.Post("/logout-all", s.handleLogoutAll)
				r.Post("/change-password", s.handleChangePassword)
				r.Get("/me", s.handleMe)
				r.Get("/sessions", s.handleSessions)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authn.Middleware)

			owner := access.URLParamOwner("id")

			r.Route("/users", func(r chi.Router) {
				r.With(s.authz.Require(auth.ResourceUser, auth.ActionRead)).Get("/", s.handleListUsers)
				r.With(s.authz.Require(auth.ResourceUser, auth.ActionCreate)).Post("/", s.handleCreateUser)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.authz.RequireOrOwner(auth.ResourceUser, auth.ActionRead, owner)).Get("/", s.handleGetUser)
					r.With(s.authz.RequireOrOwner(auth.ResourceUser, auth.ActionUpdate, owner)).Patch("/", s.handleUpdateUser)

					r.With(s.authz.Require(auth.ResourceRole, auth.ActionManage)).Post("/roles", s.handleAssignRole)
					r.With(s.authz.Require(auth.ResourceRole, auth.ActionManage)).Delete("/roles/{roleId}", s.handleRemoveRole)

					r.With(s.authz.RequireOrOwner(auth.ResourceUser, auth.ActionRead, owner)).Get("/permissions", s.handleUserPermissions)
					r.With(s.authz.Require(auth.ResourcePermission, auth.ActionManage)).Post("/permissions", s.handleGrantUserPermission)
					r.With(s.authz.Require(auth.ResourcePermission, auth.ActionManage)).Delete("/permissions/{permissionId}", s.handleRevokeUserPermission)
				})
			})

			r.Route("/roles", func(r chi.Router) {
				r.With(s.authz.Require(auth.ResourceRole, auth.ActionRead)).Get("/", s.handleListRoles)
				r.With(s.authz.Require(auth.ResourceRole, auth.ActionManage)).Post("/", s.handleCreateRole)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.authz.Require(auth.ResourceRole, auth.ActionRead)).Get("/", s.handleGetRole)
					r.Group(func(r chi.Router) {
						r.Use(s.authz.Require(auth.ResourceRole, auth.ActionManage))
						r.Patch("/", s.handleUpdateRole)
						r.Delete("/", s.handleDeleteRole)
						r.Post("/permissions", s.handleGrantRolePermission)
						r.Delete("/permissions/{permissionId}", s.handleRevokeRolePermission)
					})
				})
			})

			r.Route("/permissions", func(r chi.Router) {
				r.With(s.authz.Require(auth.ResourcePermission, auth.ActionRead)).Get("/", s.handleListPermissions)
				r.With(s.authz.Require(auth.ResourcePermission, auth.ActionManage)).Post("/", s.handleCreatePermission)

				r.Route("/{id}", func(r chi.Router) {
					r.With(s.authz.Require(auth.ResourcePermission, auth.ActionRead)).Get("/", s.handleGetPermission)
					r.With(s.authz.Require(auth.ResourcePermission, auth.ActionManage)).Patch("/", s.handleUpdatePermission)
					r.With(s.authz.Require(auth.ResourcePermission, auth.ActionManage)).Delete("/", s.handleDeletePermission)
				})
			})

			r.With(s.authz.Require(auth.ResourceAudit, auth.ActionRead)).Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// rateLimited applies the login rate limiter when enabled.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	if s.loginRate == nil {
		return next
	}
	return s.loginRate.Middleware(next)
}
