package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// UserRepository is the credential store: accounts, their ordered role
// assignments and their custom permission overrides.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Count(ctx context.Context) (int, error)

	AssignRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, userID, permissionID string) error
	RevokePermission(ctx context.Context, userID, permissionID string) error
	CustomPermissions(ctx context.Context, userID string) ([]Permission, error)

	// RolePermissions returns the active permissions of the user's active
	// roles. Duplicates across roles are collapsed.
	RolePermissions(ctx context.Context, userID string) ([]Permission, error)
	// ActiveCustomPermissions returns the user's active overrides.
	ActiveCustomPermissions(ctx context.Context, userID string) ([]Permission, error)
}

// SQLiteUserRepository implements UserRepository using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

const userColumns = "id, email, display_name, password_hash, is_active, created_by, created_at, updated_at"

// Create inserts a new account together with the roles listed in
// user.Roles (by ID, in order) in one transaction. An unknown role leaves
// nothing behind and returns ErrRoleNotFound. The ID is generated if empty;
// the email is normalised.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = newID("usr-", 12)
	}
	user.Email = NormaliseEmail(user.Email)

	now := time.Now().UTC()
	user.CreatedAt = parseTime(formatTime(now))
	user.UpdatedAt = user.CreatedAt

	initial := user.Roles
	roles := []RoleRef{}
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.DisplayName, user.PasswordHash,
			boolToInt(user.IsActive), nullString(user.CreatedBy),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return fmt.Errorf("creating user: %w", err)
		}

		seen := make(map[string]bool, len(initial))
		for _, ref := range initial {
			if seen[ref.ID] {
				continue
			}
			seen[ref.ID] = true

			var name string
			err := tx.QueryRowContext(ctx, "SELECT name FROM roles WHERE id = ?", ref.ID).Scan(&name)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrRoleNotFound, ref.ID)
			}
			if err != nil {
				return fmt.Errorf("checking role: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO user_roles (user_id, role_id, position, assigned_at) VALUES (?, ?, ?, ?)",
				user.ID, ref.ID, len(roles), formatTime(now),
			); err != nil {
				return fmt.Errorf("assigning role: %w", err)
			}
			roles = append(roles, RoleRef{ID: ref.ID, Name: name})
		}
		return nil
	})
	if err != nil {
		return err
	}
	user.Roles = roles
	return nil
}

// GetByID retrieves a user with active roles populated.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByEmail retrieves a user by login email, case-insensitively.
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", NormaliseEmail(email))
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	roles, err := r.activeRoleRefs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles[u.ID]
	if u.Roles == nil {
		u.Roles = []RoleRef{}
	}
	return u, nil
}

// List returns all accounts ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	roles, err := r.activeRoleRefs(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Roles = roles[users[i].ID]
		if users[i].Roles == nil {
			users[i].Roles = []RoleRef{}
		}
	}
	return users, nil
}

// activeRoleRefs loads active role assignments in position order, keyed by
// user. An empty userID loads every user's roles.
func (r *SQLiteUserRepository) activeRoleRefs(ctx context.Context, userID string) (map[string][]RoleRef, error) {
	query := `SELECT ur.user_id, r.id, r.name
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE r.is_active = 1`
	var args []any
	if userID != "" {
		query += " AND ur.user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY ur.user_id, ur.position"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading user roles: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]RoleRef)
	for rows.Next() {
		var uid string
		var ref RoleRef
		if err := rows.Scan(&uid, &ref.ID, &ref.Name); err != nil {
			return nil, fmt.Errorf("scanning user role: %w", err)
		}
		out[uid] = append(out[uid], ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user roles: %w", err)
	}
	return out, nil
}

// Update sets display_name, email and is_active. Deactivation is the only
// form of account removal.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	user.Email = NormaliseEmail(user.Email)
	now := time.Now().UTC()
	user.UpdatedAt = parseTime(formatTime(now))

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET display_name = ?, email = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		user.DisplayName, user.Email, boolToInt(user.IsActive), formatTime(now), user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("updating user: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword replaces a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Count returns the total number of accounts.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// AssignRole appends roleID to the user's ordered role list. Assigning a
// role the user already holds is a no-op.
func (r *SQLiteUserRepository) AssignRole(ctx context.Context, userID, roleID string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "users", userID, ErrUserNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "roles", roleID, ErrRoleNotFound); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id, position, assigned_at)
			 SELECT ?, ?, COALESCE(MAX(position), -1) + 1, ? FROM user_roles WHERE user_id = ?
			 ON CONFLICT (user_id, role_id) DO NOTHING`,
			userID, roleID, formatTime(time.Now()), userID,
		)
		if err != nil {
			return fmt.Errorf("assigning role: %w", err)
		}
		return nil
	})
}

// RemoveRole drops one role assignment. Removing an absent assignment
// returns ErrRoleNotFound.
func (r *SQLiteUserRepository) RemoveRole(ctx context.Context, userID, roleID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return fmt.Errorf("removing role: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// GrantPermission adds a custom permission override. Granting twice is a
// no-op.
func (r *SQLiteUserRepository) GrantPermission(ctx context.Context, userID, permissionID string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "users", userID, ErrUserNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "permissions", permissionID, ErrPermissionNotFound); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_permissions (user_id, permission_id, granted_at) VALUES (?, ?, ?)
			 ON CONFLICT (user_id, permission_id) DO NOTHING`,
			userID, permissionID, formatTime(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("granting permission: %w", err)
		}
		return nil
	})
}

// RevokePermission removes a custom permission override.
func (r *SQLiteUserRepository) RevokePermission(ctx context.Context, userID, permissionID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM user_permissions WHERE user_id = ? AND permission_id = ?", userID, permissionID)
	if err != nil {
		return fmt.Errorf("revoking permission: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// CustomPermissions returns all of the user's overrides, active or not.
func (r *SQLiteUserRepository) CustomPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return queryPermissions(ctx, r.db,
		`SELECT `+qualifiedPermissionColumns+`
		 FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
		 WHERE up.user_id = ?
		 ORDER BY p.resource, p.action`, userID)
}

// RolePermissions returns active permissions granted through active roles.
func (r *SQLiteUserRepository) RolePermissions(ctx context.Context, userID string) ([]Permission, error) {
	return queryPermissions(ctx, r.db,
		`SELECT DISTINCT `+qualifiedPermissionColumns+`
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id AND r.is_active = 1
		 JOIN role_permissions rp ON rp.role_id = r.id
		 JOIN permissions p ON p.id = rp.permission_id AND p.is_active = 1
		 WHERE ur.user_id = ?
		 ORDER BY p.resource, p.action`, userID)
}

// ActiveCustomPermissions returns the user's active overrides.
func (r *SQLiteUserRepository) ActiveCustomPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return queryPermissions(ctx, r.db,
		`SELECT `+qualifiedPermissionColumns+`
		 FROM user_permissions up JOIN permissions p ON p.id = up.permission_id AND p.is_active = 1
		 WHERE up.user_id = ?
		 ORDER BY p.resource, p.action`, userID)
}

// requireRow returns notFound unless table has a row with id.
func requireRow(ctx context.Context, tx *sql.Tx, table, id string, notFound error) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one) //nolint:gosec // table is a constant from callers
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("checking %s: %w", table, err)
	}
	return nil
}

func scanUser(s scanner) (*User, error) {
	var u User
	var createdBy sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash,
		&isActive, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.IsActive = isActive != 0
	if createdBy.Valid {
		u.CreatedBy = createdBy.String
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}
