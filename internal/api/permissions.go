package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

type createPermissionRequest struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type updatePermissionRequest struct {
	Resource    *string `json:"resource,omitempty"`
	Action      *string `json:"action,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// handleListPermissions returns the whole catalog.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.catalog.ListPermissions(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err, "failed to list permissions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"count":       len(perms),
	})
}

// handleCreatePermission adds an active (resource, action) pair.
func (s *Server) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	perm := &auth.Permission{
		Resource:    req.Resource,
		Action:      auth.Action(req.Action),
		Description: req.Description,
		IsActive:    true,
	}
	if err := s.catalog.CreatePermission(r.Context(), perm); err != nil {
		s.writeStoreError(w, r, err, "failed to create permission")
		return
	}

	s.recordCatalog(r, audit.ActionCreate, audit.EntityPermission, perm.ID, map[string]any{
		"permission": perm.Key().String(),
	})
	writeJSON(w, http.StatusCreated, perm)
}

// handleGetPermission returns one permission.
func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	perm, err := s.catalog.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "failed to get permission")
		return
	}

	writeJSON(w, http.StatusOK, perm)
}

// handleUpdatePermission patches a permission. Deactivation takes effect on
// the next authorisation check of every holder.
func (s *Server) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	perm, err := s.catalog.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err, "failed to update permission")
		return
	}

	changes := map[string]any{}
	if req.Resource != nil {
		perm.Resource = *req.Resource
		changes["resource"] = *req.Resource
	}
	if req.Action != nil {
		perm.Action = auth.Action(*req.Action)
		changes["action"] = *req.Action
	}
	if req.Description != nil {
		perm.Description = *req.Description
		changes["description"] = *req.Description
	}
	if req.IsActive != nil {
		perm.IsActive = *req.IsActive
		changes["is_active"] = *req.IsActive
	}

	if err := s.catalog.UpdatePermission(r.Context(), perm); err != nil {
		s.writeStoreError(w, r, err, "failed to update permission")
		return
	}

	s.recordCatalog(r, audit.ActionUpdate, audit.EntityPermission, perm.ID, changes)
	writeJSON(w, http.StatusOK, perm)
}

// handleDeletePermission removes an unreferenced permission.
func (s *Server) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.catalog.DeletePermission(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, "failed to delete permission")
		return
	}

	s.recordCatalog(r, audit.ActionDelete, audit.EntityPermission, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
