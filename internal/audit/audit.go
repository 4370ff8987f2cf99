// Package audit records and lists administrative and authentication
// activity in the identity store's audit_logs table.
package audit

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// Actions recorded by the identity service.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionLogout          = "logout"
	ActionLogoutAll       = "logout_all"
	ActionRefreshReuse    = "refresh_reuse"
	ActionPasswordChanged = "password_changed"
	ActionRegister        = "register"
	ActionCreate          = "create"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionGrant           = "grant"
	ActionRevoke          = "revoke"
)

// Entity types.
const (
	EntityUser       = "user"
	EntityRole       = "role"
	EntityPermission = "permission"
	EntitySession    = "session"
)

// Source values.
const (
	SourceAPI       = "api"
	SourceBootstrap = "bootstrap"
)

// AuditLog is a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter controls which audit logs to return.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	UserID     string    // actor
	Since      time.Time // zero means no lower bound
	Limit      int       // default 50, max 200
	Offset     int
}

// ListResult is a page of audit logs.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines audit log persistence.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Recorder writes audit entries without failing the caller's operation.
// A failed insert is logged and dropped.
type Recorder struct {
	repo   Repository
	logger *logging.Logger
}

// NewRecorder creates a Recorder. A nil repo makes Record a no-op.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record stores one entry.
func (r *Recorder) Record(ctx context.Context, entry AuditLog) {
	if r == nil || r.repo == nil {
		return
	}
	if entry.Source == "" {
		entry.Source = SourceAPI
	}
	if err := r.repo.Create(ctx, &entry); err != nil && r.logger != nil {
		r.logger.Warn("audit write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
