package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/store"
)

// Store persists users and refresh tokens
type Store struct {
	db      *store.DB
	metrics *observability.Metrics
}

// NewStore creates an auth store. metrics may be nil.
func NewStore(db *store.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// CreateUser inserts a new account
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO users (email, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		user.Email, user.PasswordHash, user.Role, user.Active, user.CreatedAt,
	)
	store.Observe(s.metrics, "users", "create", start, err)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", ErrUserExists, user.Email)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser loads an account by email
func (s *Store) GetUser(ctx context.Context, email string) (*User, error) {
	start := time.Now()
	var user User
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT email, password_hash, role, active, created_at
		FROM users WHERE email = ?`),
		email,
	).Scan(&user.Email, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt)
	store.Observe(s.metrics, "users", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListUsers returns accounts ordered by email, optionally filtered by
// role
func (s *Store) ListUsers(ctx context.Context, role string) ([]*User, error) {
	start := time.Now()

	query := `SELECT email, password_hash, role, active, created_at FROM users`
	args := []interface{}{}
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY email`

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	store.Observe(s.metrics, "users", "list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.Email, &user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

// SetUserRole updates an account's assigned role
func (s *Store) SetUserRole(ctx context.Context, email, role string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE users SET role = ? WHERE email = ?`),
		role, email,
	)
	store.Observe(s.metrics, "users", "set_role", start, err)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	return nil
}

// SaveRefreshToken persists a hashed refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, email, tokenHash string, expiresAt time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO refresh_tokens (user_email, token_hash, expires_at, revoked, created_at)
		VALUES (?, ?, ?, FALSE, ?)`),
		email, tokenHash, expiresAt.UTC(), time.Now().UTC(),
	)
	store.Observe(s.metrics, "refresh_tokens", "save", start, err)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken loads a refresh token record by its hash
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	start := time.Now()
	var rt RefreshToken
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, user_email, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token_hash = ?`),
		tokenHash,
	).Scan(&rt.ID, &rt.UserEmail, &rt.TokenHash, &rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt)
	store.Observe(s.metrics, "refresh_tokens", "get", start, err)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a single refresh token revoked
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = ?`),
		tokenHash,
	)
	store.Observe(s.metrics, "refresh_tokens", "revoke", start, err)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes every outstanding refresh token for a
// user, used on logout
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, email string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE refresh_tokens SET revoked = TRUE WHERE user_email = ?`),
		email,
	)
	store.Observe(s.metrics, "refresh_tokens", "revoke_all", start, err)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return nil
}

// PurgeExpiredTokens deletes refresh tokens past their expiry, returning
// the number removed. Run on a schedule; revocation state for live tokens
// is never touched.
func (s *Store) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM refresh_tokens WHERE expires_at < ?`),
		time.Now().UTC(),
	)
	store.Observe(s.metrics, "refresh_tokens", "purge", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	purged, _ := res.RowsAffected()
	return purged, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
