package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
)

// SessionStore is the durable set of live refresh tokens per user.
//
// Every mutation is a single statement or a short transaction touching only
// the affected rows, so concurrent logins and logouts for the same user
// never overwrite each other.
type SessionStore interface {
	AddRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error
	HasValidRefreshToken(ctx context.Context, userID, token string) (bool, error)
	RemoveRefreshToken(ctx context.Context, userID, token string) error
	RemoveAllRefreshTokens(ctx context.Context, userID string) error
	RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string, ttl time.Duration) error
	ListActive(ctx context.Context, userID string) ([]RefreshToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteSessionStore implements SessionStore on the refresh_tokens table.
type SQLiteSessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionStore creates a SQLite-backed session store.
func NewSessionStore(db *sql.DB) *SQLiteSessionStore {
	return &SQLiteSessionStore{db: db, now: time.Now}
}

// AddRefreshToken records token for userID, valid for ttl. Adding a token
// that is already recorded is a no-op.
func (s *SQLiteSessionStore) AddRefreshToken(ctx context.Context, userID, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: refresh token ttl must be positive", ErrValidation)
	}
	now := s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT (token_hash) DO NOTHING`,
		newID("rt-", 16), userID, uuid.NewString(), HashToken(token),
		formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("adding refresh token: %w", err)
	}
	return nil
}

// HasValidRefreshToken reports whether token is recorded for userID,
// unexpired and not consumed by rotation.
func (s *SQLiteSessionStore) HasValidRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens
		 WHERE user_id = ? AND token_hash = ? AND revoked = 0 AND expires_at > ?`,
		userID, HashToken(token), formatTime(s.now()),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking refresh token: %w", err)
	}
	return n > 0, nil
}

// RemoveRefreshToken deletes one record. Removing an absent token is not
// an error.
func (s *SQLiteSessionStore) RemoveRefreshToken(ctx context.Context, userID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id = ? AND token_hash = ?",
		userID, HashToken(token),
	); err != nil {
		return fmt.Errorf("removing refresh token: %w", err)
	}
	return nil
}

// RemoveAllRefreshTokens deletes every record for userID.
func (s *SQLiteSessionStore) RemoveAllRefreshTokens(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("removing all refresh tokens: %w", err)
	}
	return nil
}

// RotateRefreshToken consumes oldToken and records newToken in the same
// family, in one transaction.
//
// The consume is a compare-and-set on revoked = 0, so of two concurrent
// rotations of the same token exactly one succeeds. Presenting a token that
// was already consumed is treated as theft: the whole family is deleted and
// ErrTokenReuse is returned. An unknown or expired token returns
// ErrTokenInvalid.
func (s *SQLiteSessionStore) RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: refresh token ttl must be positive", ErrValidation)
	}
	now := s.now()
	oldHash := HashToken(oldToken)
	reused := false

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var familyID string
		var revoked int
		var expiresAt string
		err := tx.QueryRowContext(ctx,
			"SELECT family_id, revoked, expires_at FROM refresh_tokens WHERE user_id = ? AND token_hash = ?",
			userID, oldHash,
		).Scan(&familyID, &revoked, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenInvalid
		}
		if err != nil {
			return fmt.Errorf("looking up refresh token: %w", err)
		}

		if revoked != 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE family_id = ?", familyID); err != nil {
				return fmt.Errorf("removing token family: %w", err)
			}
			reused = true
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1
			 WHERE user_id = ? AND token_hash = ? AND revoked = 0 AND expires_at > ?`,
			userID, oldHash, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("consuming refresh token: %w", err)
		}
		if rowsAffected(res) != 1 {
			return ErrTokenInvalid
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, expires_at, revoked, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?)`,
			newID("rt-", 16), userID, familyID, HashToken(newToken),
			formatTime(now.Add(ttl)), formatTime(now),
		); err != nil {
			return fmt.Errorf("recording rotated token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if reused {
		return ErrTokenReuse
	}
	return nil
}

// ListActive returns the user's unexpired, unconsumed records, newest first.
func (s *SQLiteSessionStore) ListActive(ctx context.Context, userID string) ([]RefreshToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, family_id, token_hash, expires_at, revoked, created_at
		 FROM refresh_tokens
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC, id`, userID, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("listing active tokens: %w", err)
	}
	defer rows.Close()

	tokens := []RefreshToken{}
	for rows.Next() {
		var t RefreshToken
		var revoked int
		var expiresAt, createdAt string
		if err := rows.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash,
			&expiresAt, &revoked, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		t.Revoked = revoked != 0
		t.ExpiresAt = parseTime(expiresAt)
		t.CreatedAt = parseTime(createdAt)
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes expired records, consumed or not. Returns the
// number of rows deleted.
func (s *SQLiteSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	return rowsAffected(res), nil
}

// Sweeper deletes expired refresh token records on an interval until ctx
// is cancelled.
type Sweeper struct {
	store    SessionStore
	interval time.Duration
	onSwept  func(n int64, err error)
}

// NewSweeper creates a Sweeper. onSwept, if non-nil, is called after every
// pass.
func NewSweeper(store SessionStore, interval time.Duration, onSwept func(n int64, err error)) *Sweeper {
	return &Sweeper{store: store, interval: interval, onSwept: onSwept}
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.DeleteExpired(ctx)
			if w.onSwept != nil {
				w.onSwept(n, err)
			}
		}
	}
}
