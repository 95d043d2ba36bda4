/*
Package auth is the bearer-token identity layer.

PURPOSE:
  Issues and verifies the HS256 bearer tokens that protect the API. The
  token payload carries the user ID and username; everything downstream of
  verification works with an already-authenticated user ID and never sees
  credentials.

SINGLE MECHANISM:
  One stateless bearer token, 24h expiry. Signout gets real semantics
  through a persisted revocation table keyed by the token ID (jti):
  Revoke records the jti until the token's natural expiry, and Verify
  rejects revoked tokens. No server-side session state beyond that table.

ERROR TAXONOMY:
  ErrTokenExpired - the token was valid but is past its expiry; the API
                    layer reports this distinctly (isAuthenticated:false)
  ErrTokenInvalid - malformed, badly signed, or revoked

SEE ALSO:
  - api/middleware.go: Extracts the bearer token and calls Verify
  - store/sqlite: RevocationStore implementation
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 24 * time.Hour

var (
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, badly signed, or revoked
	// tokens.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the token payload.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RevocationStore persists signed-out token IDs until their natural expiry.
type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, userID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Issuer issues, verifies, and revokes bearer tokens.
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	revoked RevocationStore
}

// NewIssuer creates an issuer with the given signing secret. The revocation
// store may be nil, in which case signout is a client-side no-op.
func NewIssuer(secret string, revoked RevocationStore) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: TokenTTL, revoked: revoked}
}

// Issue creates a signed bearer token for the user, expiring after the TTL.
func (i *Issuer) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a bearer token, including the revocation
// check. Expiry is reported as ErrTokenExpired; every other failure is
// ErrTokenInvalid.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		var verr *jwt.ValidationError
		if errors.As(err, &verr) && verr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}

	if i.revoked != nil {
		revoked, err := i.revoked.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenInvalid
		}
	}

	return claims, nil
}

// Revoke signs out the token carrying the given claims. Idempotent.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.revoked == nil {
		return nil
	}
	expiresAt := time.Now().Add(i.ttl)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return i.revoked.RevokeToken(ctx, claims.ID, claims.UserID, expiresAt)
}
