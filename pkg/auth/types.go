package auth

import (
	"errors"
	"time"
)

// User is an account identified by email. Role is the name of a global
// role in the registry; empty means unassigned (deny-all on gated
// resources).
type User struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// RefreshToken is a persisted, revocable refresh credential. The token
// value itself is stored hashed.
type RefreshToken struct {
	ID        int64
	UserEmail string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// TokenPair is what login and refresh return
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

var (
	// ErrUserNotFound is returned when no account exists for an email
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when registering an email that is taken
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidCredentials is returned on a bad email/password pair
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for missing, malformed, expired, or
	// revoked tokens
	ErrInvalidToken = errors.New("invalid token")

	// ErrInactiveUser is returned when an account is deactivated
	ErrInactiveUser = errors.New("user is inactive")
)
