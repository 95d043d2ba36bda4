/*
middleware.go - Bearer-token authentication middleware

PURPOSE:
  Extracts the Authorization: Bearer token, verifies it (signature, expiry,
  revocation), and attaches the claims to the request context. Protected
  handlers read the authenticated user ID from the context and never touch
  the token themselves.

ERROR BEHAVIOR:
  Missing/malformed header or invalid token -> 401 invalid_token
  Expired token                             -> 401 token_expired
  Both carry isAuthenticated:false so clients drop their session either way,
  but expiry is distinguishable for silent re-login flows.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/warp/coin-ledger/auth"
)

type contextKey string

const claimsKey contextKey = "authClaims"

// BearerAuth returns middleware that rejects requests without a valid
// bearer token.
func BearerAuth(issuer *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeAuthError(w, "authorization header required", "invalid_token")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, "invalid authorization header format", "invalid_token")
				return
			}

			claims, err := issuer.Verify(r.Context(), parts[1])
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					writeAuthError(w, "token expired", "token_expired")
					return
				}
				writeAuthError(w, "invalid or revoked token", "invalid_token")
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// claimsFrom returns the authenticated claims, or nil on unprotected routes.
func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func writeAuthError(w http.ResponseWriter, message, code string) {
	notAuthed := false
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:           message,
		Code:            code,
		IsAuthenticated: &notAuthed,
	})
}
