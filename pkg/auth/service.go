package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neofi/chronicle/pkg/observability"
	"github.com/neofi/chronicle/pkg/rbac"
)

// OwnerRole is the registry role seeded with full access for the owner
// account
const OwnerRole = "owner"

// Service implements the account and token lifecycle
type Service struct {
	store    *Store
	issuer   *TokenIssuer
	resolver *rbac.Resolver
	logger   *observability.Logger
}

// NewService creates an auth service
func NewService(store *Store, issuer *TokenIssuer, resolver *rbac.Resolver, logger *observability.Logger) *Service {
	return &Service{store: store, issuer: issuer, resolver: resolver, logger: logger}
}

// Register creates a new account with no assigned role
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("user", email).Info("user registered")
	return user, nil
}

// Login verifies credentials and issues an access/refresh token pair
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}

	return s.issuePair(ctx, email)
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. An expired stored token is marked revoked on use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	email, err := s.issuer.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	hash := hashToken(refreshToken)
	stored, err := s.store.GetRefreshToken(ctx, hash)
	if err != nil {
		return nil, err
	}
	if stored.Revoked {
		return nil, fmt.Errorf("%w: token revoked", ErrInvalidToken)
	}
	if time.Now().After(stored.ExpiresAt) {
		s.store.RevokeRefreshToken(ctx, hash)
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	if err := s.store.RevokeRefreshToken(ctx, hash); err != nil {
		return nil, err
	}
	return s.issuePair(ctx, email)
}

// Logout revokes all outstanding refresh tokens for the user. Access
// tokens simply age out.
func (s *Service) Logout(ctx context.Context, email string) error {
	if err := s.store.RevokeUserRefreshTokens(ctx, email); err != nil {
		return err
	}
	s.logger.WithField("user", email).Info("user logged out")
	return nil
}

func (s *Service) issuePair(ctx context.Context, email string) (*TokenPair, error) {
	access, err := s.issuer.IssueAccessToken(email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issuer.IssueRefreshToken(email)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.issuer.RefreshTTL())
	if err := s.store.SaveRefreshToken(ctx, email, hashToken(refresh), expiresAt); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// ResolveAccessToken verifies an access token and loads the active
// account behind it. Shared by the HTTP middleware and the websocket
// connect gate.
func (s *Service) ResolveAccessToken(ctx context.Context, tokenString string) (*User, error) {
	email, err := s.issuer.VerifyAccessToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// GetUser loads an account by email
func (s *Service) GetUser(ctx context.Context, email string) (*User, error) {
	return s.store.GetUser(ctx, email)
}

// ListUsers returns accounts, optionally filtered by role
func (s *Service) ListUsers(ctx context.Context, role string) ([]*User, error) {
	return s.store.ListUsers(ctx, role)
}

// AssignRole sets a user's global role. The role must exist in the
// registry.
func (s *Service) AssignRole(ctx context.Context, email, roleName string) error {
	if _, err := s.resolver.GetRole(ctx, roleName); err != nil {
		return err
	}
	if err := s.store.SetUserRole(ctx, email, roleName); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{"user": email, "role": roleName}).Info("role assigned")
	return nil
}

// SeedOwner idempotently creates the owner role with full access and the
// owner account. Skipped entirely when password is empty.
func (s *Service) SeedOwner(ctx context.Context, email, password string) error {
	if password == "" {
		s.logger.Warn("owner password not configured, skipping owner seed")
		return nil
	}

	if _, err := s.resolver.GetRole(ctx, OwnerRole); err != nil {
		if !errors.Is(err, rbac.ErrRoleNotFound) {
			return err
		}
		if _, err := s.resolver.CreateRole(ctx, OwnerRole, email); err != nil && !errors.Is(err, rbac.ErrRoleExists) {
			return err
		}
		if err := s.resolver.SetGrid(ctx, OwnerRole, rbac.FullAccess()); err != nil {
			return err
		}
	}

	if _, err := s.store.GetUser(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &User{
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Role:         OwnerRole,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil && !errors.Is(err, ErrUserExists) {
		return err
	}

	s.logger.WithField("user", user.Email).Info("owner account seeded")
	return nil
}
