package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// ServiceConfig holds the policy switches of the authentication flows.
type ServiceConfig struct {
	// RotateRefreshTokens issues a new refresh token on every refresh and
	// consumes the old one. When false a refresh token is reused until
	// logout or expiry.
	RotateRefreshTokens bool

	RegistrationEnabled bool
	DefaultRole         string // assigned on self-registration, may be empty
}

// ServiceDeps are the collaborators of a Service. Events and Audit may be
// nil.
type ServiceDeps struct {
	Users    UserRepository
	Catalog  CatalogRepository
	Sessions SessionStore
	Tokens   *TokenService
	Revoker  RevocationCache
	Hasher   *PasswordHasher
	Events   EventSink
	Audit    *audit.Recorder
	Logger   *logging.Logger
	Config   ServiceConfig
}

// Service implements login, refresh, logout, logout-all, change-password
// and registration on top of the stores and the token service.
type Service struct {
	users    UserRepository
	catalog  CatalogRepository
	sessions SessionStore
	tokens   *TokenService
	revoker  RevocationCache
	hasher   *PasswordHasher
	events   EventSink
	audit    *audit.Recorder
	logger   *logging.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService creates a Service.
func NewService(deps ServiceDeps) *Service {
	hasher := deps.Hasher
	if hasher == nil {
		hasher = DefaultPasswordHasher()
	}
	events := deps.Events
	if events == nil {
		events = EventSinks(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		users:    deps.Users,
		catalog:  deps.Catalog,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		revoker:  deps.Revoker,
		hasher:   hasher,
		events:   events,
		audit:    deps.Audit,
		logger:   logger.With("component", "auth"),
		cfg:      deps.Config,
		now:      time.Now,
	}
}

// TokenPair is returned by login and refresh. RefreshToken is empty on a
// refresh when rotation is disabled.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	User   *User     `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// Login checks the credential pair and mints a token pair. Unknown email,
// wrong password and inactive account all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.VerifyMissing(password)
			s.loginFailed(ctx, "", "unknown_user")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		s.loginFailed(ctx, user.ID, "bad_hash")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.loginFailed(ctx, user.ID, "wrong_password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.loginFailed(ctx, user.ID, "inactive")
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}

	access, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.AddRefreshToken(ctx, user.ID, refresh, s.tokens.RefreshTTL()); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionLogin,
		EntityType: audit.EntitySession,
		EntityID:   user.ID,
		UserID:     user.ID,
	})
	s.emit(ctx, Event{Kind: EventLogin, UserID: user.ID, Email: user.Email, Success: true})

	return &LoginResult{
		User: user,
		Tokens: TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		},
	}, nil
}

func (s *Service) loginFailed(ctx context.Context, userID, reason string) {
	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionLoginFailed,
		EntityType: audit.EntitySession,
		EntityID:   userID,
		Details:    map[string]any{"reason": reason},
	})
	s.emit(ctx, Event{Kind: EventLoginFailed, UserID: userID, Reason: reason})
}

func (s *Service) rehash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, userID, hash)
	}
	if err != nil {
		s.logger.Warn("password rehash failed", "user_id", userID, "error", err)
	}
}

// Refresh exchanges a refresh token for a new access token.
//
// The token must verify as a refresh token and have a live session record
// for its subject, whose account must still be active. Every rejection is
// ErrTokenInvalid. With rotation enabled the presented token is consumed
// and a new one is returned; presenting a consumed token again ends the
// whole token family.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenRefresh)
	if err != nil {
		s.refreshFailed(ctx, "", "verify")
		return nil, ErrTokenInvalid
	}
	userID := claims.UserID()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.refreshFailed(ctx, userID, "unknown_user")
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if !user.IsActive {
		s.refreshFailed(ctx, userID, "inactive")
		return nil, ErrTokenInvalid
	}

	pair := &TokenPair{ExpiresIn: int(s.tokens.AccessTTL().Seconds())}

	if s.cfg.RotateRefreshTokens {
		next, _, err := s.tokens.IssueRefreshToken(user)
		if err != nil {
			return nil, err
		}
		err = s.sessions.RotateRefreshToken(ctx, userID, refreshToken, next, s.tokens.RefreshTTL())
		switch {
		case errors.Is(err, ErrTokenReuse):
			s.logger.Warn("refresh token reuse detected, token family revoked", "user_id", userID)
			s.audit.Record(ctx, audit.AuditLog{
				Action:     audit.ActionRefreshReuse,
				EntityType: audit.EntitySession,
				EntityID:   userID,
				UserID:     userID,
			})
			s.emit(ctx, Event{Kind: EventRefreshReuse, UserID: userID, Reason: "reuse"})
			return nil, ErrTokenInvalid
		case errors.Is(err, ErrTokenInvalid):
			s.refreshFailed(ctx, userID, "no_session")
			return nil, ErrTokenInvalid
		case err != nil:
			return nil, err
		}
		pair.RefreshToken = next
	} else {
		ok, err := s.sessions.HasValidRefreshToken(ctx, userID, refreshToken)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.refreshFailed(ctx, userID, "no_session")
			return nil, ErrTokenInvalid
		}
	}

	access, _, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	pair.AccessToken = access

	s.emit(ctx, Event{Kind: EventRefresh, UserID: userID, Success: true})
	return pair, nil
}

func (s *Service) refreshFailed(ctx context.Context, userID, reason string) {
	s.emit(ctx, Event{Kind: EventRefreshFailed, UserID: userID, Reason: reason})
}

// Logout removes one refresh record of the caller and revokes the access
// token the caller presented.
func (s *Service) Logout(ctx context.Context, claims *Claims, accessToken, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("%w: refresh_token is required", ErrValidation)
	}
	userID := claims.UserID()

	if err := s.sessions.RemoveRefreshToken(ctx, userID, refreshToken); err != nil {
		return err
	}
	s.revokeAccess(ctx, claims, accessToken)

	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionLogout,
		EntityType: audit.EntitySession,
		EntityID:   userID,
		UserID:     userID,
	})
	s.emit(ctx, Event{Kind: EventLogout, UserID: userID, Email: claims.Email, Success: true})
	return nil
}

// LogoutAll removes every refresh record of the caller and revokes the
// presented access token.
func (s *Service) LogoutAll(ctx context.Context, claims *Claims, accessToken string) error {
	userID := claims.UserID()

	if err := s.sessions.RemoveAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	s.revokeAccess(ctx, claims, accessToken)

	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionLogoutAll,
		EntityType: audit.EntitySession,
		EntityID:   userID,
		UserID:     userID,
	})
	s.emit(ctx, Event{Kind: EventLogoutAll, UserID: userID, Email: claims.Email, Success: true})
	return nil
}

// revokeAccess marks the presented access token revoked for the rest of its
// lifetime. The session records are already gone at this point, so a cache
// failure is logged rather than returned: the token still dies at expiry.
func (s *Service) revokeAccess(ctx context.Context, claims *Claims, accessToken string) {
	if s.revoker == nil || accessToken == "" {
		return
	}
	if err := s.revoker.Revoke(ctx, accessToken, claims.RemainingTTL(s.now())); err != nil {
		s.logger.Warn("access token revocation failed", "user_id", claims.UserID(), "error", err)
	}
}

// ChangePassword replaces the caller's password after re-checking the
// current one. All of the user's sessions end, including the caller's.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, accessToken, current, next string) error {
	if err := ValidatePassword(next); err != nil {
		return err
	}
	userID := claims.UserID()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.sessions.RemoveAllRefreshTokens(ctx, userID); err != nil {
		return err
	}
	s.revokeAccess(ctx, claims, accessToken)

	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionPasswordChanged,
		EntityType: audit.EntityUser,
		EntityID:   userID,
		UserID:     userID,
	})
	s.emit(ctx, Event{Kind: EventPasswordChanged, UserID: userID, Email: user.Email, Success: true})
	return nil
}

// NewUser is the input of Register and CreateUser.
type NewUser struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name"`
	RoleIDs     []string `json:"role_ids,omitempty"` // CreateUser only
}

// Register creates an account through self-service sign-up. The configured
// default role, if any, is assigned.
func (s *Service) Register(ctx context.Context, in NewUser) (*User, error) {
	if !s.cfg.RegistrationEnabled {
		return nil, ErrRegistrationDisabled
	}

	var roleIDs []string
	if s.cfg.DefaultRole != "" {
		role, err := s.catalog.GetRoleByName(ctx, s.cfg.DefaultRole)
		if err != nil {
			return nil, fmt.Errorf("loading default role %q: %w", s.cfg.DefaultRole, err)
		}
		roleIDs = []string{role.ID}
	}

	user, err := s.createUser(ctx, in, roleIDs, "")
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionRegister,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     user.ID,
	})
	s.emit(ctx, Event{Kind: EventRegistered, UserID: user.ID, Email: user.Email, Success: true})
	return user, nil
}

// CreateUser creates an account on behalf of an administrator, with the
// given roles assigned in order.
func (s *Service) CreateUser(ctx context.Context, in NewUser, actorID string) (*User, error) {
	user, err := s.createUser(ctx, in, in.RoleIDs, actorID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.AuditLog{
		Action:     audit.ActionCreate,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     actorID,
		Details:    map[string]any{"email": user.Email, "roles": user.RoleNames()},
	})
	return user, nil
}

func (s *Service) createUser(ctx context.Context, in NewUser, roleIDs []string, createdBy string) (*User, error) {
	email := NormaliseEmail(in.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		display, _, _ = strings.Cut(email, "@")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &User{
		Email:        email,
		DisplayName:  display,
		PasswordHash: hash,
		IsActive:     true,
		CreatedBy:    createdBy,
		Roles:        make([]RoleRef, 0, len(roleIDs)),
	}
	for _, id := range roleIDs {
		user.Roles = append(user.Roles, RoleRef{ID: id})
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Sessions lists the caller's live refresh records.
func (s *Service) Sessions(ctx context.Context, userID string) ([]RefreshToken, error) {
	return s.sessions.ListActive(ctx, userID)
}

// NotifyAccessChanged publishes that a user's roles or custom permissions
// changed, so downstream consumers can refresh derived state.
func (s *Service) NotifyAccessChanged(ctx context.Context, userID, reason string) {
	s.emit(ctx, Event{Kind: EventAccessChanged, UserID: userID, Success: true, Reason: reason})
}

func (s *Service) emit(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	s.events.Emit(ctx, e)
}
