package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coin-ledger/ledger"
	"github.com/warp/coin-ledger/store/memory"
)

// The memory store must satisfy the same contract as the SQL store: the
// tests drive it through the engine, not directly.

func TestMemoryStore_EngineContract(t *testing.T) {
	store := memory.New()
	engine := ledger.NewEngine(store)
	ctx := context.Background()

	alice, err := store.CreateAccount(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	bob, err := store.CreateAccount(ctx, "bob", "bob@example.com")
	require.NoError(t, err)

	_, err = store.CreateAccount(ctx, "alice", "other@example.com")
	assert.ErrorIs(t, err, ledger.ErrDuplicateUsername)

	// One-time task reward
	coins, err := engine.GrantTaskReward(ctx, alice.ID, "daily", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), coins)

	_, err = engine.GrantTaskReward(ctx, alice.ID, "daily", 50)
	assert.ErrorIs(t, err, ledger.ErrTaskAlreadyCompleted)

	// Unlimited clicks
	for i := 0; i < 3; i++ {
		_, err = engine.GrantClickReward(ctx, alice.ID, 1)
		require.NoError(t, err)
	}

	// Referral bonus, once per referred user
	require.NoError(t, engine.GrantSignupReferral(ctx, alice.ID, bob.ID))
	err = engine.GrantSignupReferral(ctx, alice.ID, bob.ID)
	assert.ErrorIs(t, err, ledger.ErrReferralAlreadyRecorded)

	coins, err = engine.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50+3+ledger.ReferralBonus), coins)

	require.NoError(t, engine.CheckBalanceInvariant(ctx, alice.ID, 0))
}

func TestMemoryStore_WithTxRollback(t *testing.T) {
	// GIVEN: A referral to a referrer that does not exist
	// WHEN: The engine runs the bonus transaction
	// THEN: The snapshot is restored and no referral fact survives

	store := memory.New()
	engine := ledger.NewEngine(store)
	ctx := context.Background()

	bob, err := store.CreateAccount(ctx, "bob", "bob@example.com")
	require.NoError(t, err)

	err = engine.GrantSignupReferral(ctx, ledger.UserID("ghost"), bob.ID)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	refs, err := store.ListReferrals(ctx, ledger.UserID("ghost"))
	require.NoError(t, err)
	assert.Empty(t, refs)

	// The referred marker must be rolled back too, or a later legitimate
	// referral of bob would be rejected.
	alice, err := store.CreateAccount(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.NoError(t, engine.GrantSignupReferral(ctx, alice.ID, bob.ID))
}

func TestMemoryStore_TokenRevocation(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	revoked, err := store.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.RevokeToken(ctx, "jti-1", "user-1", time.Now().Add(time.Hour)))

	revoked, err = store.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
