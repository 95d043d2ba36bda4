package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coin-ledger/auth"
)

// memRevocations is an in-memory RevocationStore for tests.
type memRevocations struct {
	mu   sync.Mutex
	jtis map[string]bool
}

func newMemRevocations() *memRevocations {
	return &memRevocations{jtis: make(map[string]bool)}
}

func (m *memRevocations) RevokeToken(_ context.Context, jti, _ string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jtis[jti] = true
	return nil
}

func (m *memRevocations) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jtis[jti], nil
}

func TestIssueAndVerify_Roundtrip(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", nil)

	token, err := issuer.Issue("user-1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID, "every token carries a unique jti")
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := auth.NewIssuer("secret-a", nil).Issue("user-1", "alice")
	require.NoError(t, err)

	_, err = auth.NewIssuer("secret-b", nil).Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestVerify_Garbage(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", nil)

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := issuer.Verify(context.Background(), tok)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid, "token %q", tok)
	}
}

func TestVerify_Expired(t *testing.T) {
	// Sign an already-expired token with the issuer's secret so the only
	// failing check is expiry.
	const secret = "test-secret"
	now := time.Now()
	claims := auth.Claims{
		UserID:   "user-1",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = auth.NewIssuer(secret, nil).Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	// alg=none with an empty signature must never verify.
	const secret = "test-secret"
	claims := auth.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.NewIssuer(secret, nil).Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRevoke_TokenStopsVerifying(t *testing.T) {
	// GIVEN: A valid token
	// WHEN: It is revoked
	// THEN: Verify rejects it; other tokens are untouched

	ctx := context.Background()
	issuer := auth.NewIssuer("test-secret", newMemRevocations())

	token, err := issuer.Issue("user-1", "alice")
	require.NoError(t, err)
	other, err := issuer.Issue("user-1", "alice")
	require.NoError(t, err)

	claims, err := issuer.Verify(ctx, token)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, claims))
	require.NoError(t, issuer.Revoke(ctx, claims), "revoke is idempotent")

	_, err = issuer.Verify(ctx, token)
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)

	_, err = issuer.Verify(ctx, other)
	assert.NoError(t, err, "revocation is per token, not per user")
}
