package auth

import (
	"context"
	"errors"
	"fmt"
)

// SubjectLoader is the part of the credential store the resolver reads.
type SubjectLoader interface {
	GetByID(ctx context.Context, id string) (*User, error)
	RolePermissions(ctx context.Context, userID string) ([]Permission, error)
	ActiveCustomPermissions(ctx context.Context, userID string) ([]Permission, error)
}

// Resolver decides whether a user may perform an action on a resource.
//
// Every call reads the current catalog and user state; nothing is cached,
// so role, permission and account changes apply to the next check.
// Store errors are returned as-is and callers must deny on error.
type Resolver struct {
	users SubjectLoader
}

// NewResolver creates a Resolver over users.
func NewResolver(users SubjectLoader) *Resolver {
	return &Resolver{users: users}
}

// HasPermission reports whether userID holds action on resource, exactly or
// through manage. A missing user returns ErrSubjectNotFound; an inactive
// user is denied.
func (r *Resolver) HasPermission(ctx context.Context, userID, resource string, action Action) (bool, error) {
	set, active, err := r.load(ctx, userID)
	if err != nil || !active {
		return false, err
	}
	return set.Allows(resource, action), nil
}

// HasPermissionOrOwnership grants access when HasPermission does, or when
// owner returns userID. owner is only consulted for an active user that
// lacks the permission.
func (r *Resolver) HasPermissionOrOwnership(ctx context.Context, userID, resource string, action Action, owner func() string) (bool, error) {
	set, active, err := r.load(ctx, userID)
	if err != nil || !active {
		return false, err
	}
	if set.Allows(resource, action) {
		return true, nil
	}
	return owner != nil && owner() == userID, nil
}

// EffectivePermissions returns the user's combined grant set. Inactive users
// have an empty set.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	set, active, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !active {
		return PermissionSet{}, nil
	}
	return set, nil
}

func (r *Resolver) load(ctx context.Context, userID string) (PermissionSet, bool, error) {
	user, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, false, ErrSubjectNotFound
		}
		return nil, false, fmt.Errorf("loading subject: %w", err)
	}
	if !user.IsActive {
		return nil, false, nil
	}

	fromRoles, err := r.users.RolePermissions(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("loading role permissions: %w", err)
	}
	custom, err := r.users.ActiveCustomPermissions(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("loading custom permissions: %w", err)
	}
	return NewPermissionSet(fromRoles, custom), true, nil
}
