package auth

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Action is the verb half of a permission.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionManage implies every other action on the same resource. It is
	// never expanded in storage; the resolver treats it as a wildcard.
	ActionManage Action = "manage"
)

// Actions lists every valid action in a stable order.
var Actions = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage}

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Actions {
		if a == v {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

var (
	// emailPattern requires one @, no whitespace and a dot in the domain.
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// namePattern covers role names and permission resources.
	namePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]{0,63}$`)
)

const (
	maxEmailLength    = 254
	minPasswordLength = 8
	maxPasswordLength = 128
)

// NormaliseEmail lowercases and trims an email address.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that email looks like an address.
func ValidateEmail(email string) error {
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}

// ValidatePassword enforces the length policy.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrValidation, maxPasswordLength)
	}
	return nil
}

// ValidateName checks a role name or permission resource.
func ValidateName(kind, name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %s must be lowercase alphanumeric (with . _ -), 1-64 characters", ErrValidation, kind)
	}
	return nil
}

// Permission is an atomic (resource, action) grant.
type Permission struct {
	ID          string    `json:"id"`
	Resource    string    `json:"resource"`
	Action      Action    `json:"action"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Key returns the permission's (resource, action) pair.
func (p Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}

// Role is a named bundle of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	IsSystem    bool         `json:"is_system"`
	IsActive    bool         `json:"is_active"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RoleRef is a role reference held by a user, in assignment order.
type RoleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a human account. Roles and custom permissions are referenced by
// id, so a catalog change applies to every user without rewriting them.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"` // never serialised
	IsActive     bool      `json:"is_active"`
	Roles        []RoleRef `json:"roles"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleNames returns the user's active role names in assignment order.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// RefreshToken is a persisted refresh token record. Only the SHA-256 digest
// of the token is stored.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FamilyID  string    `json:"family_id"`
	TokenHash string    `json:"-"` // never serialised
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PermissionKey identifies a permission by what it grants.
type PermissionKey struct {
	Resource string
	Action   Action
}

// String renders the key as "resource:action".
func (k PermissionKey) String() string {
	return k.Resource + ":" + string(k.Action)
}

// PermissionSet is the combined grant set of one user: role permissions
// plus custom overrides, inactive entries already excluded.
type PermissionSet map[PermissionKey]struct{}

// NewPermissionSet builds a set from permission lists.
func NewPermissionSet(lists ...[]Permission) PermissionSet {
	set := make(PermissionSet)
	for _, perms := range lists {
		for _, p := range perms {
			set[p.Key()] = struct{}{}
		}
	}
	return set
}

// Allows reports whether the set grants action on resource, either
// exactly or through manage on the same resource.
func (s PermissionSet) Allows(resource string, action Action) bool {
	if _, ok := s[PermissionKey{Resource: resource, Action: action}]; ok {
		return true
	}
	_, ok := s[PermissionKey{Resource: resource, Action: ActionManage}]
	return ok
}

// Strings returns the set as sorted "resource:action" strings.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already registered")
	ErrSubjectNotFound    = errors.New("subject not found")

	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleExists         = errors.New("role name already exists")
	ErrRoleInUse          = errors.New("role is still assigned to users")
	ErrSystemRole         = errors.New("system roles cannot be renamed, deactivated or deleted")
	ErrPermissionNotFound = errors.New("permission not found")
	ErrPermissionExists   = errors.New("permission already exists")
	ErrPermissionInUse    = errors.New("permission is still referenced")

	ErrValidation           = errors.New("validation failed")
	ErrRegistrationDisabled = errors.New("registration is disabled")

	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrTokenInvalid)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrTokenInvalid)
	ErrTokenWrongType = fmt.Errorf("%w: wrong token type", ErrTokenInvalid)
	ErrTokenRevoked   = fmt.Errorf("%w: revoked", ErrTokenInvalid)
	ErrTokenReuse     = errors.New("refresh token reuse detected")
)
