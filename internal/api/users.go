package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name"`
	RoleIDs     []string `json:"role_ids"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type roleRefRequest struct {
	RoleID string `json:"role_id"`
}

type permissionRefRequest struct {
	PermissionID string `json:"permission_id"`
}

type userPermissionsResponse struct {
	Custom    []auth.Permission `json:"custom"`
	Effective []string          `json:"effective"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates an account with the given roles.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := access.ClaimsFromContext(r.Context())
	user, err := s.service.CreateUser(r.Context(), auth.NewUser{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		RoleIDs:     req.RoleIDs,
	}, claims.UserID())
	if err != nil {
		s.writeStoreError(w, r, err, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "roles", user.RoleNames(), "created_by", claims.UserID())
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser patches a user's profile. Owners without user:update
// may change only their display name; nobody may deactivate themselves.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) { //nolint:gocognit,gocyclo // field patching + self-protection guards
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	claims := access.ClaimsFromContext(r.Context())
	self := id == claims.UserID()

	if self && (req.Email != nil || req.IsActive != nil) {
		privileged, err := s.resolver.HasPermission(r.Context(), claims.UserID(), auth.ResourceUser, auth.ActionUpdate)
		if err != nil {
			s.writeStoreError(w, r, err, "failed to update user")
			return
		}
		if !privileged {
			writeForbidden(w, "only display_name can be changed on your own account")
			return
		}
		if req.IsActive != nil && !*req.IsActive {
			writeForbidden(w, "cannot deactivate your own account")
			return
		}
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "failed to update user")
		return
	}

	changes := map[string]any{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "display_name cannot be empty")
			return
		}
		user.DisplayName = name
		changes["display_name"] = name
	}
	if req.Email != nil {
		email := auth.NormaliseEmail(*req.Email)
		if err := auth.ValidateEmail(email); err != nil {
			s.writeStoreError(w, r, err, "failed to update user")
			return
		}
		user.Email = email
		changes["email"] = email
	}
	deactivated := false
	if req.IsActive != nil && *req.IsActive != user.IsActive {
		deactivated = !*req.IsActive
		user.IsActive = *req.IsActive
		changes["is_active"] = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.writeStoreError(w, r, err, "failed to update user")
		return
	}

	s.audit.Record(r.Context(), audit.AuditLog{
		Action:     audit.ActionUpdate,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     claims.UserID(),
		Details:    changes,
	})
	if deactivated {
		s.service.NotifyAccessChanged(r.Context(), user.ID, "deactivated")
	}

	writeJSON(w, http.StatusOK, user)
}

// handleAssignRole appends a role to a user's role list.
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RoleID == "" {
		writeBadRequest(w, "role_id is required")
		return
	}

	userID := chi.URLParam(r, "id")
	if err := s.users.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		s.writeStoreError(w, r, err, "failed to assign role")
		return
	}
	s.accessChanged(r, audit.ActionGrant, audit.EntityRole, req.RoleID, userID, "role_assigned")

	s.respondUser(w, r, userID)
}

// handleRemoveRole removes a role from a user.
func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	roleID := chi.URLParam(r, "roleId")

	if err := s.users.RemoveRole(r.Context(), userID, roleID); err != nil {
		s.writeStoreError(w, r, err, "failed to remove role")
		return
	}
	s.accessChanged(r, audit.ActionRevoke, audit.EntityRole, roleID, userID, "role_removed")

	w.WriteHeader(http.StatusNoContent)
}

// handleUserPermissions returns a user's custom overrides and the full set
// of permissions the resolver grants them.
func (s *Server) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	custom, err := s.users.CustomPermissions(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, r, err, "failed to list permissions")
		return
	}
	effective, err := s.resolver.EffectivePermissions(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrSubjectNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.writeStoreError(w, r, err, "failed to list permissions")
		return
	}

	writeJSON(w, http.StatusOK, userPermissionsResponse{
		Custom:    custom,
		Effective: effective.Strings(),
	})
}

// handleGrantUserPermission adds a custom permission override.
func (s *Server) handleGrantUserPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PermissionID == "" {
		writeBadRequest(w, "permission_id is required")
		return
	}

	userID := chi.URLParam(r, "id")
	if err := s.users.GrantPermission(r.Context(), userID, req.PermissionID); err != nil {
		s.writeStoreError(w, r, err, "failed to grant permission")
		return
	}
	s.accessChanged(r, audit.ActionGrant, audit.EntityPermission, req.PermissionID, userID, "permission_granted")

	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeUserPermission removes a custom permission override.
func (s *Server) handleRevokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "permissionId")

	if err := s.users.RevokePermission(r.Context(), userID, permID); err != nil {
		s.writeStoreError(w, r, err, "failed to revoke permission")
		return
	}
	s.accessChanged(r, audit.ActionRevoke, audit.EntityPermission, permID, userID, "permission_revoked")

	w.WriteHeader(http.StatusNoContent)
}

// accessChanged audits a grant change on a user and publishes it.
func (s *Server) accessChanged(r *http.Request, action, entityType, entityID, userID, reason string) {
	claims := access.ClaimsFromContext(r.Context())
	s.audit.Record(r.Context(), audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     claims.UserID(),
		Details:    map[string]any{"target_user_id": userID},
	})
	s.service.NotifyAccessChanged(r.Context(), userID, reason)
}

func (s *Server) respondUser(w http.ResponseWriter, r *http.Request, id string) {
	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
