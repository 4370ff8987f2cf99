package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

const (
	roleColumns                = "id, name, description, is_system, is_active, created_at, updated_at"
	permissionColumns          = "id, resource, action, description, is_active, created_at, updated_at"
	qualifiedPermissionColumns = "p.id, p.resource, p.action, p.description, p.is_active, p.created_at, p.updated_at"
)

// CatalogRepository persists roles, permissions and role grants.
type CatalogRepository interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (*Role, error)
	GetRoleByName(ctx context.Context, name string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
	GrantToRole(ctx context.Context, roleID, permissionID string) error
	RevokeFromRole(ctx context.Context, roleID, permissionID string) error

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	GetPermissionByKey(ctx context.Context, resource string, action Action) (*Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpdatePermission(ctx context.Context, perm *Permission) error
	DeletePermission(ctx context.Context, id string) error
}

// SQLiteCatalogRepository implements CatalogRepository using SQLite.
type SQLiteCatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository creates a SQLite-backed catalog.
func NewCatalogRepository(db *sql.DB) *SQLiteCatalogRepository {
	return &SQLiteCatalogRepository{db: db}
}

// CreateRole inserts a role. Names are unique.
func (r *SQLiteCatalogRepository) CreateRole(ctx context.Context, role *Role) error {
	if err := ValidateName("role name", role.Name); err != nil {
		return err
	}
	if role.ID == "" {
		role.ID = newID("role-", 12)
	}
	now := time.Now()
	role.CreatedAt = parseTime(formatTime(now))
	role.UpdatedAt = role.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.Description, boolToInt(role.IsSystem), boolToInt(role.IsActive),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}
	role.Permissions = []Permission{}
	return nil
}

// GetRole returns a role with all its granted permissions, active or not.
func (r *SQLiteCatalogRepository) GetRole(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = ?", id)
}

// GetRoleByName returns a role by its unique name.
func (r *SQLiteCatalogRepository) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	return r.getRole(ctx, "SELECT "+roleColumns+" FROM roles WHERE name = ?", name)
}

func (r *SQLiteCatalogRepository) getRole(ctx context.Context, query string, arg string) (*Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	role.Permissions, err = r.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	return role, nil
}

// ListRoles returns all roles by name, without permissions.
func (r *SQLiteCatalogRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	return roles, nil
}

// UpdateRole sets name, description and is_active. System roles keep their
// name and stay active; only the description may change.
func (r *SQLiteCatalogRepository) UpdateRole(ctx context.Context, role *Role) error {
	if err := ValidateName("role name", role.Name); err != nil {
		return err
	}

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		current, err := scanRole(tx.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = ?", role.ID))
		if err != nil {
			return err
		}
		if current.IsSystem && (role.Name != current.Name || !role.IsActive) {
			return ErrSystemRole
		}

		now := time.Now()
		_, err = tx.ExecContext(ctx,
			"UPDATE roles SET name = ?, description = ?, is_active = ?, updated_at = ? WHERE id = ?",
			role.Name, role.Description, boolToInt(role.IsActive), formatTime(now), role.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrRoleExists
			}
			return fmt.Errorf("updating role: %w", err)
		}
		role.IsSystem = current.IsSystem
		role.CreatedAt = current.CreatedAt
		role.UpdatedAt = parseTime(formatTime(now))
		return nil
	})
}

// DeleteRole removes a role and its grants. System roles and roles still
// assigned to any user are refused.
func (r *SQLiteCatalogRepository) DeleteRole(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM roles WHERE id = ? AND is_system = 0
		 AND NOT EXISTS (SELECT 1 FROM user_roles WHERE role_id = ?)`, id, id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	if rowsAffected(res) == 1 {
		return nil
	}

	role, err := scanRole(r.db.QueryRowContext(ctx, "SELECT "+roleColumns+" FROM roles WHERE id = ?", id))
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}
	return ErrRoleInUse
}

// GrantToRole adds a permission to a role. Granting twice is a no-op.
func (r *SQLiteCatalogRepository) GrantToRole(ctx context.Context, roleID, permissionID string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "roles", roleID, ErrRoleNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "permissions", permissionID, ErrPermissionNotFound); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission_id, granted_at) VALUES (?, ?, ?)
			 ON CONFLICT (role_id, permission_id) DO NOTHING`,
			roleID, permissionID, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("granting permission to role: %w", err)
		}
		return nil
	})
}

// RevokeFromRole removes a permission from a role. The change is visible to
// the next authorisation check of every user holding the role.
func (r *SQLiteCatalogRepository) RevokeFromRole(ctx context.Context, roleID, permissionID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?", roleID, permissionID)
	if err != nil {
		return fmt.Errorf("revoking permission from role: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

func (r *SQLiteCatalogRepository) rolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	return queryPermissions(ctx, r.db,
		`SELECT `+qualifiedPermissionColumns+`
		 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = ?
		 ORDER BY p.resource, p.action`, roleID)
}

// CreatePermission inserts a permission. (resource, action) is unique.
func (r *SQLiteCatalogRepository) CreatePermission(ctx context.Context, perm *Permission) error {
	if err := validatePermission(perm); err != nil {
		return err
	}
	if perm.ID == "" {
		perm.ID = newID("perm-", 12)
	}
	now := time.Now()
	perm.CreatedAt = parseTime(formatTime(now))
	perm.UpdatedAt = perm.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permissions (`+permissionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		perm.ID, perm.Resource, string(perm.Action), perm.Description, boolToInt(perm.IsActive),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPermissionExists
		}
		return fmt.Errorf("creating permission: %w", err)
	}
	return nil
}

// GetPermission returns a permission by id.
func (r *SQLiteCatalogRepository) GetPermission(ctx context.Context, id string) (*Permission, error) {
	return scanPermission(r.db.QueryRowContext(ctx, "SELECT "+permissionColumns+" FROM permissions WHERE id = ?", id))
}

// GetPermissionByKey returns the permission for (resource, action).
func (r *SQLiteCatalogRepository) GetPermissionByKey(ctx context.Context, resource string, action Action) (*Permission, error) {
	return scanPermission(r.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+" FROM permissions WHERE resource = ? AND action = ?", resource, string(action)))
}

// ListPermissions returns all permissions by resource and action.
func (r *SQLiteCatalogRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return queryPermissions(ctx, r.db, "SELECT "+permissionColumns+" FROM permissions ORDER BY resource, action")
}

// UpdatePermission sets resource, action, description and is_active.
// Deactivating a permission removes it from every grant set on the next
// check without touching roles or users.
func (r *SQLiteCatalogRepository) UpdatePermission(ctx context.Context, perm *Permission) error {
	if err := validatePermission(perm); err != nil {
		return err
	}
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE permissions SET resource = ?, action = ?, description = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		perm.Resource, string(perm.Action), perm.Description, boolToInt(perm.IsActive), formatTime(now), perm.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrPermissionExists
		}
		return fmt.Errorf("updating permission: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrPermissionNotFound
	}
	perm.UpdatedAt = parseTime(formatTime(now))
	return nil
}

// DeletePermission removes a permission that no role or user references.
func (r *SQLiteCatalogRepository) DeletePermission(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM permissions WHERE id = ?
		 AND NOT EXISTS (SELECT 1 FROM role_permissions WHERE permission_id = ?)
		 AND NOT EXISTS (SELECT 1 FROM user_permissions WHERE permission_id = ?)`, id, id, id)
	if err != nil {
		return fmt.Errorf("deleting permission: %w", err)
	}
	if rowsAffected(res) == 1 {
		return nil
	}
	if _, err := r.GetPermission(ctx, id); err != nil {
		return err
	}
	return ErrPermissionInUse
}

func validatePermission(p *Permission) error {
	if err := ValidateName("resource", p.Resource); err != nil {
		return err
	}
	action, err := ParseAction(string(p.Action))
	if err != nil {
		return err
	}
	p.Action = action
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPermissions(ctx context.Context, q queryer, query string, args ...any) ([]Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}
	return perms, nil
}

func scanRole(s scanner) (*Role, error) {
	var role Role
	var isSystem, isActive int
	var createdAt, updatedAt string

	err := s.Scan(&role.ID, &role.Name, &role.Description, &isSystem, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	role.IsSystem = isSystem != 0
	role.IsActive = isActive != 0
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)
	return &role, nil
}

func scanPermission(s scanner) (*Permission, error) {
	var p Permission
	var action string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.Resource, &action, &p.Description, &isActive, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPermissionNotFound
		}
		return nil, fmt.Errorf("scanning permission: %w", err)
	}
	p.Action = Action(action)
	p.IsActive = isActive != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
