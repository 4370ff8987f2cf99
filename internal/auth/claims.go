package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes access from refresh tokens in the typ claim.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Token defaults, used when no option overrides them.
const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	minSecretLength   = 32
)

// Claims is the signed claim set of both token types. Refresh tokens carry
// only the registered claims and typ.
type Claims struct {
	jwt.RegisteredClaims
	Email string    `json:"email,omitempty"`
	Roles []string  `json:"roles,omitempty"`
	Role  string    `json:"role,omitempty"` // first role, for single-role consumers
	Type  TokenType `json:"typ"`
}

// UserID returns the subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// HasAnyRole reports whether the claims carry at least one of names.
func (c *Claims) HasAnyRole(names ...string) bool {
	for _, r := range c.Roles {
		if slices.Contains(names, r) {
			return true
		}
	}
	return false
}

// RemainingTTL is the time left before expiry, zero if already expired.
func (c *Claims) RemainingTTL(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TokenService mints and verifies HS256 tokens with a shared key.
//
// It holds no mutable state after construction and is safe for
// concurrent use. The gateway and the identity service must be configured
// with the same secret.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.refreshTTL = d
		}
	}
}

// WithIssuer sets the iss claim and requires it on verification.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		s.issuer = issuer
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTokenService creates a TokenService. The secret must be at least 32
// bytes.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d characters", ErrValidation, minSecretLength)
	}

	s := &TokenService{
		secret:     []byte(secret),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs {sub, email, roles, role, typ=access} with the
// access TTL.
func (s *TokenService) IssueAccessToken(user *User) (string, time.Time, error) {
	roles := user.RoleNames()
	claims := s.registered(user.ID, s.accessTTL)
	c := &Claims{
		RegisteredClaims: claims,
		Email:            user.Email,
		Roles:            roles,
		Type:             TokenAccess,
	}
	if len(roles) > 0 {
		c.Role = roles[0]
	}
	return s.sign(c)
}

// IssueRefreshToken signs {sub, typ=refresh} with the refresh TTL. The
// caller persists it in the session store.
func (s *TokenService) IssueRefreshToken(user *User) (string, time.Time, error) {
	return s.sign(&Claims{
		RegisteredClaims: s.registered(user.ID, s.refreshTTL),
		Type:             TokenRefresh,
	})
}

func (s *TokenService) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}

func (s *TokenService) sign(c *Claims) (string, time.Time, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", c.Type, err)
	}
	return signed, c.ExpiresAt.Time, nil
}

// Verify checks signature, expiry and token type.
//
// Errors are ErrTokenMalformed (bad encoding, bad signature, missing
// claims), ErrTokenExpired, or ErrTokenWrongType; all wrap ErrTokenInvalid.
// Expiry is checked before type, so an expired refresh token presented as
// an access token reports expired.
func (s *TokenService) Verify(token string, want TokenType) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if claims.Type != want {
		return nil, ErrTokenWrongType
	}
	return claims, nil
}
