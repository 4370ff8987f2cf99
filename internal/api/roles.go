package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRoleRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// handleListRoles returns every role without its grants.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.catalog.ListRoles(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err, "failed to list roles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleCreateRole creates an active, non-system role.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role := &auth.Role{Name: req.Name, Description: req.Description, IsActive: true}
	if err := s.catalog.CreateRole(r.Context(), role); err != nil {
		s.writeStoreError(w, r, err, "failed to create role")
		return
	}

	s.recordCatalog(r, audit.ActionCreate, audit.EntityRole, role.ID, map[string]any{"name": role.Name})
	writeJSON(w, http.StatusCreated, role)
}

// handleGetRole returns a role with its granted permissions.
func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.catalog.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "failed to get role")
		return
	}

	writeJSON(w, http.StatusOK, role)
}

// handleUpdateRole patches a role. System roles reject renames and
// deactivation with 409.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role, err := s.catalog.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "failed to update role")
		return
	}

	changes := map[string]any{}
	if req.Name != nil {
		role.Name = *req.Name
		changes["name"] = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
		changes["description"] = *req.Description
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
		changes["is_active"] = *req.IsActive
	}

	if err := s.catalog.UpdateRole(r.Context(), role); err != nil {
		s.writeStoreError(w, r, err, "failed to update role")
		return
	}

	s.recordCatalog(r, audit.ActionUpdate, audit.EntityRole, role.ID, changes)
	writeJSON(w, http.StatusOK, role)
}

// handleDeleteRole removes an unassigned, non-system role.
func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.catalog.DeleteRole(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, "failed to delete role")
		return
	}

	s.recordCatalog(r, audit.ActionDelete, audit.EntityRole, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleGrantRolePermission adds a permission to a role.
func (s *Server) handleGrantRolePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRefRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PermissionID == "" {
		writeBadRequest(w, "permission_id is required")
		return
	}

	roleID := chi.URLParam(r, "id")
	if err := s.catalog.GrantToRole(r.Context(), roleID, req.PermissionID); err != nil {
		s.writeStoreError(w, r, err, "failed to grant permission")
		return
	}

	s.recordCatalog(r, audit.ActionGrant, audit.EntityRole, roleID, map[string]any{"permission_id": req.PermissionID})

	role, err := s.catalog.GetRole(r.Context(), roleID)
	if err != nil {
		s.writeStoreError(w, r, err, "failed to get role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// handleRevokeRolePermission removes a permission from a role.
func (s *Server) handleRevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")
	permID := chi.URLParam(r, "permissionId")

	if err := s.catalog.RevokeFromRole(r.Context(), roleID, permID); err != nil {
		s.writeStoreError(w, r, err, "failed to revoke permission")
		return
	}

	s.recordCatalog(r, audit.ActionRevoke, audit.EntityRole, roleID, map[string]any{"permission_id": permID})
	w.WriteHeader(http.StatusNoContent)
}

// recordCatalog audits a role or permission change by the caller.
func (s *Server) recordCatalog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	s.audit.Record(r.Context(), audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     access.ClaimsFromContext(r.Context()).UserID(),
		Details:    details,
	})
}
