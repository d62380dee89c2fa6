// Package auth provides user accounts and token lifecycle: bcrypt
// credential hashing, HS256 JWT access tokens, rotating refresh tokens
// with revocation, the bearer-token middleware that resolves the caller
// into the request context, and the seeded owner account.
package auth
