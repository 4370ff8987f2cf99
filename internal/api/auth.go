package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userSummary is the user shape returned by login.
type userSummary struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
}

type loginResponse struct {
	User   userSummary    `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type meResponse struct {
	*auth.User
	Permissions []string `json:"permissions"`
}

func summarise(u *auth.User) userSummary {
	return userSummary{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       u.RoleNames(),
	}
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleLogin authenticates a user and returns an access and refresh token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	result, err := s.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		User:   summarise(result.User),
		Tokens: result.Tokens,
	})
}

// handleRegister creates an account through self-service sign-up.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.service.Register(r.Context(), auth.NewUser{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.writeStoreError(w, r, err, "registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// handleRefresh exchanges a refresh token for a new access token. Every
// failure is the same 401 so the client simply re-authenticates.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			writeUnauthorized(w, "invalid refresh token")
			return
		}
		s.logger.Error("refresh failed", "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout ends the session of the presented refresh token and revokes
// the access token used for this request.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := access.ClaimsFromContext(r.Context())
	err := s.service.Logout(r.Context(), claims, access.AccessTokenFromContext(r.Context()), req.RefreshToken)
	if err != nil {
		s.writeStoreError(w, r, err, "logout failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll ends every session of the caller.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := access.ClaimsFromContext(r.Context())
	if err := s.service.LogoutAll(r.Context(), claims, access.AccessTokenFromContext(r.Context())); err != nil {
		s.writeStoreError(w, r, err, "logout failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword replaces the caller's password. All sessions end.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	claims := access.ClaimsFromContext(r.Context())
	err := s.service.ChangePassword(r.Context(), claims, access.AccessTokenFromContext(r.Context()),
		req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusForbidden, ErrCodeWrongPassword, "current password is incorrect")
			return
		}
		s.writeStoreError(w, r, err, "password change failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's profile and effective permissions.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := access.ClaimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, access.CodeSubjectNotFound, "user no longer exists")
			return
		}
		s.writeStoreError(w, r, err, "failed to load profile")
		return
	}

	perms, err := s.resolver.EffectivePermissions(r.Context(), user.ID)
	if err != nil {
		s.writeStoreError(w, r, err, "failed to load permissions")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: user, Permissions: perms.Strings()})
}

// handleSessions lists the caller's live refresh sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims := access.ClaimsFromContext(r.Context())

	sessions, err := s.service.Sessions(r.Context(), claims.UserID())
	if err != nil {
		s.writeStoreError(w, r, err, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
