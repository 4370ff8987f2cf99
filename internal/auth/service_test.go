package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// recordingSink captures emitted events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *recordingSink) has(kind EventKind) bool {
	for _, k := range s.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	db       *sql.DB
	svc      *Service
	users    *SQLiteUserRepository
	catalog  *SQLiteCatalogRepository
	sessions *SQLiteSessionStore
	tokens   *TokenService
	cache    *RedisRevocationCache
	sink     *recordingSink
	audit    *audit.SQLiteRepository
}

func newServiceFixture(t *testing.T, cfg ServiceConfig) *serviceFixture {
	t.Helper()
	db := testDB(t)
	cache, _ := newTestRevocationCache(t)
	f := &serviceFixture{
		db:       db,
		users:    NewUserRepository(db),
		catalog:  NewCatalogRepository(db),
		sessions: NewSessionStore(db),
		tokens:   newTestTokenService(t),
		cache:    cache,
		sink:     &recordingSink{},
		audit:    audit.NewSQLiteRepository(db),
	}
	logger := logging.Default()
	f.svc = NewService(ServiceDeps{
		Users:    f.users,
		Catalog:  f.catalog,
		Sessions: f.sessions,
		Tokens:   f.tokens,
		Revoker:  f.cache,
		Hasher:   testHasher(),
		Events:   f.sink,
		Audit:    audit.NewRecorder(f.audit, logger),
		Logger:   logger,
		Config:   cfg,
	})
	return f
}

func (f *serviceFixture) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return res
}

func TestService_Login(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	role := seedTestRole(t, f.db, "operator")
	user := seedTestUser(t, f.db, "op@example.com", role)

	res, err := f.svc.Login(context.Background(), "OP@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != user.ID {
		t.Errorf("User.ID = %q, want %q", res.User.ID, user.ID)
	}
	if res.Tokens.ExpiresIn != int(f.tokens.AccessTTL().Seconds()) {
		t.Errorf("ExpiresIn = %d", res.Tokens.ExpiresIn)
	}

	claims, err := f.tokens.Verify(res.Tokens.AccessToken, TokenAccess)
	if err != nil {
		t.Fatalf("Verify(access) error = %v", err)
	}
	if claims.Role != "operator" || claims.Email != "op@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	ok, err := f.sessions.HasValidRefreshToken(context.Background(), user.ID, res.Tokens.RefreshToken)
	if err != nil || !ok {
		t.Errorf("refresh record missing after login: %v, %v", ok, err)
	}
	if !f.sink.has(EventLogin) {
		t.Errorf("events = %v, want login", f.sink.kinds())
	}

	logs, err := f.audit.List(context.Background(), audit.Filter{Action: audit.ActionLogin})
	if err != nil {
		t.Fatalf("audit List() error = %v", err)
	}
	if logs.Total != 1 {
		t.Errorf("audit login entries = %d, want 1", logs.Total)
	}
}

func TestService_LoginFailuresAreGeneric(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	seedTestUser(t, f.db, "known@example.com")
	inactive := seedTestUser(t, f.db, "gone@example.com")
	inactive.IsActive = false
	if err := f.users.Update(context.Background(), inactive); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"unknown user", "nobody@example.com", testPassword},
		{"wrong password", "known@example.com", "wrong-password"},
		{"inactive", "gone@example.com", testPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tt.email, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
			if err.Error() != ErrInvalidCredentials.Error() {
				t.Errorf("error text %q leaks detail", err.Error())
			}
		})
	}
	if !f.sink.has(EventLoginFailed) {
		t.Errorf("events = %v, want login_failed", f.sink.kinds())
	}
}

func TestService_RefreshWithoutRotation(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{RotateRefreshTokens: false})
	seedTestUser(t, f.db, "r@example.com")
	res := f.login(t, "r@example.com")
	ctx := context.Background()

	for i := range 2 {
		pair, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh() #%d error = %v", i+1, err)
		}
		if pair.RefreshToken != "" {
			t.Error("RefreshToken should be empty when rotation is disabled")
		}
		if _, err := f.tokens.Verify(pair.AccessToken, TokenAccess); err != nil {
			t.Errorf("new access token invalid: %v", err)
		}
	}
}

func TestService_RefreshRejected(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	user := seedTestUser(t, f.db, "x@example.com")
	res := f.login(t, "x@example.com")
	ctx := context.Background()

	if _, err := f.svc.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(garbage) error = %v, want ErrTokenInvalid", err)
	}
	if _, err := f.svc.Refresh(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(access token) error = %v, want ErrTokenInvalid", err)
	}

	// A correctly signed refresh token without a session record is refused.
	orphan, _, err := f.tokens.IssueRefreshToken(user)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}
	if _, err := f.svc.Refresh(ctx, orphan); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(unrecorded) error = %v, want ErrTokenInvalid", err)
	}

	user.IsActive = false
	if err := f.users.Update(ctx, user); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(inactive user) error = %v, want ErrTokenInvalid", err)
	}
}

func TestService_RefreshWithRotation(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{RotateRefreshTokens: true})
	seedTestUser(t, f.db, "rot@example.com")
	res := f.login(t, "rot@example.com")
	ctx := context.Background()

	pair, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.RefreshToken == "" || pair.RefreshToken == res.Tokens.RefreshToken {
		t.Fatal("rotation should return a new refresh token")
	}

	// Replaying the first token is reuse: it fails and takes the new one down too.
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(replayed) error = %v, want ErrTokenInvalid", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(after reuse) error = %v, want ErrTokenInvalid", err)
	}
	if !f.sink.has(EventRefreshReuse) {
		t.Errorf("events = %v, want refresh_reuse", f.sink.kinds())
	}
}

func TestService_LogoutEndsOneSession(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	seedTestUser(t, f.db, "two@example.com")
	phone := f.login(t, "two@example.com")
	laptop := f.login(t, "two@example.com")
	ctx := context.Background()

	claims, err := f.tokens.Verify(phone.Tokens.AccessToken, TokenAccess)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := f.svc.Logout(ctx, claims, phone.Tokens.AccessToken, phone.Tokens.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if _, err := f.svc.Refresh(ctx, phone.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Refresh(logged out) error = %v, want ErrTokenInvalid", err)
	}
	if _, err := f.svc.Refresh(ctx, laptop.Tokens.RefreshToken); err != nil {
		t.Errorf("Refresh(other session) error = %v, want nil", err)
	}

	revoked, err := f.cache.IsRevoked(ctx, phone.Tokens.AccessToken)
	if err != nil || !revoked {
		t.Errorf("IsRevoked(phone access) = %v, %v; want true", revoked, err)
	}
	if revoked, _ := f.cache.IsRevoked(ctx, laptop.Tokens.AccessToken); revoked {
		t.Error("other session's access token must not be revoked")
	}

	if err := f.svc.Logout(ctx, claims, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("Logout() without refresh token error = %v, want ErrValidation", err)
	}
}

func TestService_LogoutAll(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	seedTestUser(t, f.db, "all@example.com")
	a := f.login(t, "all@example.com")
	b := f.login(t, "all@example.com")
	ctx := context.Background()

	claims, _ := f.tokens.Verify(a.Tokens.AccessToken, TokenAccess)
	if err := f.svc.LogoutAll(ctx, claims, a.Tokens.AccessToken); err != nil {
		t.Fatalf("LogoutAll() error = %v", err)
	}

	for _, rt := range []string{a.Tokens.RefreshToken, b.Tokens.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, rt); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Refresh() after logout-all error = %v, want ErrTokenInvalid", err)
		}
	}
	if revoked, _ := f.cache.IsRevoked(ctx, a.Tokens.AccessToken); !revoked {
		t.Error("presented access token should be revoked")
	}
	if !f.sink.has(EventLogoutAll) {
		t.Errorf("events = %v, want logout_all", f.sink.kinds())
	}
}

func TestService_ChangePassword(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	seedTestUser(t, f.db, "pw@example.com")
	res := f.login(t, "pw@example.com")
	ctx := context.Background()
	claims, _ := f.tokens.Verify(res.Tokens.AccessToken, TokenAccess)

	if err := f.svc.ChangePassword(ctx, claims, res.Tokens.AccessToken, "wrong-current", "new-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("ChangePassword(wrong current) error = %v, want ErrInvalidCredentials", err)
	}
	if err := f.svc.ChangePassword(ctx, claims, res.Tokens.AccessToken, testPassword, "short"); !errors.Is(err, ErrValidation) {
		t.Errorf("ChangePassword(short) error = %v, want ErrValidation", err)
	}

	if err := f.svc.ChangePassword(ctx, claims, res.Tokens.AccessToken, testPassword, "new-password-1"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("old session should end, Refresh() error = %v", err)
	}
	if _, err := f.svc.Login(ctx, "pw@example.com", testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(old password) error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.svc.Login(ctx, "pw@example.com", "new-password-1"); err != nil {
		t.Errorf("Login(new password) error = %v", err)
	}
}

func TestService_Register(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{RegistrationEnabled: true, DefaultRole: "member"})
	seedTestRole(t, f.db, "member")
	ctx := context.Background()

	user, err := f.svc.Register(ctx, NewUser{Email: "New@Example.com", Password: "long-enough"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Email != "new@example.com" || user.DisplayName != "new" {
		t.Errorf("user = %+v", user)
	}
	if names := user.RoleNames(); len(names) != 1 || names[0] != "member" {
		t.Errorf("RoleNames() = %v, want [member]", names)
	}

	if _, err := f.svc.Register(ctx, NewUser{Email: "new@example.com", Password: "long-enough"}); !errors.Is(err, ErrEmailExists) {
		t.Errorf("Register(duplicate) error = %v, want ErrEmailExists", err)
	}
	if _, err := f.svc.Register(ctx, NewUser{Email: "not-an-email", Password: "long-enough"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Register(bad email) error = %v, want ErrValidation", err)
	}
	if _, err := f.svc.Register(ctx, NewUser{Email: "p@example.com", Password: "short"}); !errors.Is(err, ErrValidation) {
		t.Errorf("Register(short password) error = %v, want ErrValidation", err)
	}
}

func TestService_RegisterDisabled(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{RegistrationEnabled: false})
	_, err := f.svc.Register(context.Background(), NewUser{Email: "a@example.com", Password: "long-enough"})
	if !errors.Is(err, ErrRegistrationDisabled) {
		t.Errorf("Register() error = %v, want ErrRegistrationDisabled", err)
	}
}

func TestService_CreateUserWithRoles(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	viewer := seedTestRole(t, f.db, "viewer")
	operator := seedTestRole(t, f.db, "operator")

	user, err := f.svc.CreateUser(context.Background(), NewUser{
		Email:       "staff@example.com",
		Password:    "long-enough",
		DisplayName: "Staff",
		RoleIDs:     []string{operator.ID, viewer.ID},
	}, "usr-admin")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if names := user.RoleNames(); len(names) != 2 || names[0] != "operator" || names[1] != "viewer" {
		t.Errorf("RoleNames() = %v, want [operator viewer]", names)
	}
	if user.CreatedBy != "usr-admin" {
		t.Errorf("CreatedBy = %q", user.CreatedBy)
	}
}

func TestService_CreateUserUnknownRoleLeavesNothing(t *testing.T) {
	f := newServiceFixture(t, ServiceConfig{})
	viewer := seedTestRole(t, f.db, "viewer")
	ctx := context.Background()

	in := NewUser{Email: "staff@example.com", Password: "long-enough", RoleIDs: []string{viewer.ID, "role-doesnotexist"}}
	if _, err := f.svc.CreateUser(ctx, in, "usr-admin"); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("CreateUser() error = %v, want ErrRoleNotFound", err)
	}
	if _, err := f.users.GetByEmail(ctx, "staff@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("GetByEmail() error = %v, want ErrUserNotFound", err)
	}

	in.RoleIDs = nil
	if _, err := f.svc.CreateUser(ctx, in, "usr-admin"); err != nil {
		t.Fatalf("CreateUser() retry error = %v", err)
	}
}
