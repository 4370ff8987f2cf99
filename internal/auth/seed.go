package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// System resources managed by the identity service itself.
const (
	ResourceUser       = "user"
	ResourceRole       = "role"
	ResourcePermission = "permission"
	ResourceAudit      = "audit"
)

// System role names.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// SystemResources lists the resources seeded into the catalog.
var SystemResources = []string{ResourceUser, ResourceRole, ResourcePermission, ResourceAudit}

// seedPasswordBytes is the number of random bytes for the bootstrap admin
// password.
const seedPasswordBytes = 16

// SeedCatalog makes sure every (system resource, action) permission and the
// admin and member system roles exist. admin holds manage on every system
// resource; member holds nothing and relies on ownership checks. Safe to
// run on every start.
func SeedCatalog(ctx context.Context, catalog CatalogRepository, logger *logging.Logger) error {
	manage := make([]string, 0, len(SystemResources))
	created := 0

	for _, resource := range SystemResources {
		for _, action := range Actions {
			perm, err := catalog.GetPermissionByKey(ctx, resource, action)
			if errors.Is(err, ErrPermissionNotFound) {
				perm = &Permission{
					Resource:    resource,
					Action:      action,
					Description: fmt.Sprintf("%s %s records", action, resource),
					IsActive:    true,
				}
				err = catalog.CreatePermission(ctx, perm)
				created++
			}
			if err != nil {
				return fmt.Errorf("seeding permission %s:%s: %w", resource, action, err)
			}
			if action == ActionManage {
				manage = append(manage, perm.ID)
			}
		}
	}

	admin, err := ensureSystemRole(ctx, catalog, RoleAdmin, "Full control of users, roles, permissions and audit")
	if err != nil {
		return err
	}
	if _, err := ensureSystemRole(ctx, catalog, RoleMember, "Signed-in user with access to their own profile"); err != nil {
		return err
	}
	for _, id := range manage {
		if err := catalog.GrantToRole(ctx, admin.ID, id); err != nil {
			return fmt.Errorf("granting %s to admin: %w", id, err)
		}
	}

	if created > 0 {
		logger.Info("system catalog seeded", "permissions_created", created)
	}
	return nil
}

func ensureSystemRole(ctx context.Context, catalog CatalogRepository, name, description string) (*Role, error) {
	role, err := catalog.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, fmt.Errorf("loading role %s: %w", name, err)
	}
	role = &Role{Name: name, Description: description, IsSystem: true, IsActive: true}
	if err := catalog.CreateRole(ctx, role); err != nil {
		return nil, fmt.Errorf("creating role %s: %w", name, err)
	}
	return role, nil
}

// SeedAdmin creates the bootstrap administrator on first start, when no
// account exists yet. The generated password is returned for the caller to
// show once on the console; it is never logged. Returns "" when seeding
// was skipped.
func SeedAdmin(ctx context.Context, users UserRepository, catalog CatalogRepository, hasher *PasswordHasher,
	recorder *audit.Recorder, email string, logger *logging.Logger) (string, error) {
	count, err := users.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Debug("users exist, skipping admin seed")
		return "", nil
	}

	email = NormaliseEmail(email)
	if err := ValidateEmail(email); err != nil {
		return "", fmt.Errorf("bootstrap admin email: %w", err)
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	role, err := catalog.GetRoleByName(ctx, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("loading admin role: %w", err)
	}

	admin := &User{
		Email:        email,
		DisplayName:  "Administrator",
		PasswordHash: hash,
		IsActive:     true,
		Roles:        []RoleRef{{ID: role.ID}},
	}
	if err := users.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	recorder.Record(ctx, audit.AuditLog{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityUser,
		EntityID:   admin.ID,
		Source:     audit.SourceBootstrap,
		Details:    map[string]any{"email": email, "roles": []string{RoleAdmin}},
	})
	logger.Warn("bootstrap admin account created",
		"email", email,
		"action_required", "change this password immediately",
	)

	return password, nil
}
