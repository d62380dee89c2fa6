package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims carried by both access and refresh tokens
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 JWTs
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a token issuer with the given signing secret and
// lifetimes
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the access token lifetime
func (ti *TokenIssuer) AccessTTL() time.Duration { return ti.accessTTL }

// RefreshTTL returns the refresh token lifetime
func (ti *TokenIssuer) RefreshTTL() time.Duration { return ti.refreshTTL }

// IssueAccessToken signs a short-lived access token for the user
func (ti *TokenIssuer) IssueAccessToken(email string) (string, error) {
	return ti.sign(email, tokenTypeAccess, ti.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token for the user
func (ti *TokenIssuer) IssueRefreshToken(email string) (string, error) {
	return ti.sign(email, tokenTypeRefresh, ti.refreshTTL)
}

func (ti *TokenIssuer) sign(email, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates an access token and returns the subject
// email
func (ti *TokenIssuer) VerifyAccessToken(tokenString string) (string, error) {
	return ti.verify(tokenString, tokenTypeAccess)
}

// VerifyRefreshToken validates a refresh token and returns the subject
// email
func (ti *TokenIssuer) VerifyRefreshToken(tokenString string) (string, error) {
	return ti.verify(tokenString, tokenTypeRefresh)
}

func (ti *TokenIssuer) verify(tokenString, wantType string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return "", fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// hashToken computes the SHA256 digest stored in place of raw refresh
// tokens
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
