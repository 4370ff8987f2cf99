package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-identity/migrations"
)

// testDB creates a temporary SQLite database with the identity schema
// applied. The database file is removed when the test completes.
func testDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:    filepath.Join(t.TempDir(), "identity.db"),
		WALMode: true,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db.DB
}

// testHasher uses minimal Argon2 costs so tests stay fast.
func testHasher() *PasswordHasher {
	return NewPasswordHasher(1, 1024, 1)
}

const testPassword = "test-password"

// seedTestUser inserts an active user with the given roles, in order.
func seedTestUser(t testing.TB, db *sql.DB, email string, roles ...*Role) *User {
	t.Helper()

	hash, err := testHasher().Hash(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	repo := NewUserRepository(db)
	user := &User{
		Email:        email,
		DisplayName:  email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := repo.Create(t.Context(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	for _, r := range roles {
		if err := repo.AssignRole(t.Context(), user.ID, r.ID); err != nil {
			t.Fatalf("assigning role %s: %v", r.Name, err)
		}
	}
	got, err := repo.GetByID(t.Context(), user.ID)
	if err != nil {
		t.Fatalf("reloading test user: %v", err)
	}
	return got
}

// seedTestRole inserts an active role holding the given permissions.
func seedTestRole(t testing.TB, db *sql.DB, name string, perms ...*Permission) *Role {
	t.Helper()

	catalog := NewCatalogRepository(db)
	role := &Role{Name: name, IsActive: true}
	if err := catalog.CreateRole(t.Context(), role); err != nil {
		t.Fatalf("creating role %s: %v", name, err)
	}
	for _, p := range perms {
		if err := catalog.GrantToRole(t.Context(), role.ID, p.ID); err != nil {
			t.Fatalf("granting %s to %s: %v", p.Key(), name, err)
		}
	}
	return role
}

// seedTestPermission inserts an active permission.
func seedTestPermission(t testing.TB, db *sql.DB, resource string, action Action) *Permission {
	t.Helper()

	perm := &Permission{Resource: resource, Action: action, IsActive: true}
	if err := NewCatalogRepository(db).CreatePermission(t.Context(), perm); err != nil {
		t.Fatalf("creating permission %s:%s: %v", resource, action, err)
	}
	return perm
}
