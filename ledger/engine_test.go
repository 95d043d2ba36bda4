/*
engine_test.go - Behavior tests for the coin engine

ORGANIZATION:
  1. Task rewards - one-time semantics, races decided by the constraint
  2. Click rewards - unlimited, lossless under concurrency
  3. Referral bonuses - one per referred user, signup never blocked
  4. Balance invariant - stored aggregate always equals the fact sum

Each test states the scenario with GIVEN/WHEN/THEN comments.
*/
package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coin-ledger/ledger"
	"github.com/warp/coin-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.NewEngine(store), store
}

func createUser(t *testing.T, store *sqlite.Store, username string) ledger.User {
	t.Helper()

	u, err := store.CreateAccount(context.Background(), username, username+"@example.com")
	require.NoError(t, err)
	return u
}

// =============================================================================
// TASK REWARDS - one-time per (user, task type)
// =============================================================================

func TestGrantTaskReward_FirstGrantCredits(t *testing.T) {
	// GIVEN: A user with zero coins
	// WHEN: Granting a 50-coin task reward
	// THEN: Balance is 50 and one fact row exists

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	coins, err := engine.GrantTaskReward(ctx, user.ID, "daily", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), coins)

	tasks, err := store.ListTaskCompletions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "daily", tasks[0].TaskType)
	assert.Equal(t, int64(50), tasks[0].CoinsEarned)
}

func TestGrantTaskReward_RepeatRejected(t *testing.T) {
	// GIVEN: A user who already earned the "daily" task reward
	// WHEN: Requesting the identical reward again
	// THEN: ErrTaskAlreadyCompleted, balance unchanged, still one fact row

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	_, err := engine.GrantTaskReward(ctx, user.ID, "daily", 50)
	require.NoError(t, err)

	_, err = engine.GrantTaskReward(ctx, user.ID, "daily", 50)
	assert.ErrorIs(t, err, ledger.ErrTaskAlreadyCompleted)

	coins, err := engine.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), coins)

	tasks, err := store.ListTaskCompletions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGrantTaskReward_DistinctTasksBothCredit(t *testing.T) {
	// GIVEN: A user
	// WHEN: Earning two different task labels
	// THEN: Both credit; labels are opaque, not a closed catalog

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	_, err := engine.GrantTaskReward(ctx, user.ID, "daily", 50)
	require.NoError(t, err)
	coins, err := engine.GrantTaskReward(ctx, user.ID, "watch_video", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(75), coins)
}

func TestGrantTaskReward_Concurrent_ExactlyOneCredit(t *testing.T) {
	// GIVEN: Many concurrent requests for the same (user, task type)
	// WHEN: They race at the uniqueness constraint
	// THEN: Exactly one credit lands; every loser sees
	//       ErrTaskAlreadyCompleted; exactly one fact row exists

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.GrantTaskReward(ctx, user.ID, "daily", 50)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ledger.ErrTaskAlreadyCompleted)
		}
	}
	assert.Equal(t, 1, winners, "exactly one request should win the race")

	coins, err := engine.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), coins, "only the winner's credit should apply")

	tasks, err := store.ListTaskCompletions(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestGrantTaskReward_NonPositiveAmountRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	_, err := engine.GrantTaskReward(ctx, user.ID, "daily", 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = engine.GrantTaskReward(ctx, user.ID, "daily", -5)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestGrantTaskReward_UnknownUser(t *testing.T) {
	// The fact insert succeeds but the credit hits no account row, so the
	// whole transaction rolls back: no orphaned fact.

	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.GrantTaskReward(ctx, ledger.UserID("ghost"), "daily", 50)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	tasks, err := store.ListTaskCompletions(ctx, ledger.UserID("ghost"))
	require.NoError(t, err)
	assert.Empty(t, tasks, "rollback must remove the fact row")
}

// =============================================================================
// CLICK REWARDS - unlimited
// =============================================================================

func TestGrantClickReward_Repeatable(t *testing.T) {
	// GIVEN: A user
	// WHEN: Clicking twice for 1 coin each
	// THEN: Two fact rows, balance 2

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "bob")

	_, err := engine.GrantClickReward(ctx, user.ID, 1)
	require.NoError(t, err)
	coins, err := engine.GrantClickReward(ctx, user.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), coins)

	clicks, err := store.ListCoinClicks(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, clicks, 2)
}

func TestGrantClickReward_Concurrent_NoLoss(t *testing.T) {
	// GIVEN: N concurrent click requests for the same user
	// WHEN: They all run
	// THEN: N fact rows and N credits - no lost updates

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "bob")

	const clicks = 20
	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.GrantClickReward(ctx, user.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	coins, err := engine.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(clicks), coins)

	rows, err := store.ListCoinClicks(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, rows, clicks)
}

func TestGrantReward_ClickSentinelRoutesToClickPath(t *testing.T) {
	// The reserved click label must never behave like a one-time task.

	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "bob")

	_, err := engine.GrantReward(ctx, user.ID, ledger.TaskClickCoin, 1)
	require.NoError(t, err)
	coins, err := engine.GrantReward(ctx, user.ID, ledger.TaskClickCoin, 1)
	require.NoError(t, err, "click rewards are unlimited")
	assert.Equal(t, int64(2), coins)
}

// =============================================================================
// REFERRAL BONUSES - one per referred user
// =============================================================================

func TestGrantSignupReferral_CreditsReferrer(t *testing.T) {
	// GIVEN: Users alice and bob
	// WHEN: Bob signs up with alice's code
	// THEN: Alice's balance is the fixed bonus; one referral fact exists

	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := createUser(t, store, "alice")
	bob := createUser(t, store, "bob")

	err := engine.GrantSignupReferral(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	coins, err := engine.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReferralBonus, coins)

	refs, err := store.ListReferrals(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, bob.ID, refs[0].ReferredID)
}

func TestGrantSignupReferral_SecondReferralRejected(t *testing.T) {
	// GIVEN: Bob was already referred by alice
	// WHEN: Carol also claims to have referred bob
	// THEN: ErrReferralAlreadyRecorded; carol earns nothing

	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := createUser(t, store, "alice")
	bob := createUser(t, store, "bob")
	carol := createUser(t, store, "carol")

	require.NoError(t, engine.GrantSignupReferral(ctx, alice.ID, bob.ID))

	err := engine.GrantSignupReferral(ctx, carol.ID, bob.ID)
	assert.ErrorIs(t, err, ledger.ErrReferralAlreadyRecorded)

	coins, err := engine.GetBalance(ctx, carol.ID)
	require.NoError(t, err)
	assert.Zero(t, coins)
}

func TestGrantSignupReferral_MissingReferrer_NothingPersisted(t *testing.T) {
	// GIVEN: A referral code pointing at no account
	// WHEN: The bonus transaction runs
	// THEN: It fails cleanly and the referral fact is rolled back too

	engine, store := newTestEngine(t)
	ctx := context.Background()
	bob := createUser(t, store, "bob")

	err := engine.GrantSignupReferral(ctx, ledger.UserID("ghost"), bob.ID)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	refs, err := store.ListReferrals(ctx, ledger.UserID("ghost"))
	require.NoError(t, err)
	assert.Empty(t, refs, "rollback must remove the referral fact")
}

// =============================================================================
// LEGACY ADD AND READ SIDE
// =============================================================================

func TestAddCoin_FlatIncrement(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	coins, err := engine.AddCoin(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), coins)

	coins, err = engine.AddCoin(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), coins)
}

func TestGetStats_ProjectsFactTables(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := createUser(t, store, "alice")
	bob := createUser(t, store, "bob")

	require.NoError(t, engine.GrantSignupReferral(ctx, alice.ID, bob.ID))
	_, err := engine.GrantTaskReward(ctx, alice.ID, "daily", 50)
	require.NoError(t, err)
	_, err = engine.GrantClickReward(ctx, alice.ID, 1)
	require.NoError(t, err)

	stats, err := engine.GetStats(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, stats.Referrals, 1)
	assert.Len(t, stats.Tasks, 1)

	_, err = engine.GetStats(ctx, ledger.UserID("ghost"))
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// BALANCE INVARIANT
// =============================================================================

func TestBalanceInvariant_AfterConcurrentMix(t *testing.T) {
	// GIVEN: A user hit concurrently by clicks, distinct tasks, duplicate
	//        tasks, referrals earned, and legacy adds
	// WHEN: Everything settles
	// THEN: The stored balance equals the sum recomputed from fact rows

	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := createUser(t, store, "alice")

	referred := make([]ledger.User, 3)
	for i := range referred {
		referred[i] = createUser(t, store, fmt.Sprintf("referred-%d", i))
	}

	var (
		wg           sync.WaitGroup
		legacyMu     sync.Mutex
		legacyCredit int64
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.GrantClickReward(ctx, alice.ID, 2)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Two goroutines per label: one wins, one loses.
			_, err := engine.GrantTaskReward(ctx, alice.ID, fmt.Sprintf("task-%d", i%2), 30)
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrTaskAlreadyCompleted)
			}
		}(i)
	}
	for _, r := range referred {
		wg.Add(1)
		go func(r ledger.User) {
			defer wg.Done()
			assert.NoError(t, engine.GrantSignupReferral(ctx, alice.ID, r.ID))
		}(r)
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.AddCoin(ctx, alice.ID); err == nil {
				legacyMu.Lock()
				legacyCredit++
				legacyMu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.NoError(t, engine.CheckBalanceInvariant(ctx, alice.ID, legacyCredit))

	// Sanity: 10 clicks * 2 + 2 winning tasks * 30 + 3 referrals * 500 + 5
	coins, err := engine.GetBalance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10*2+2*30+3*500+5), coins)
}

func TestDuplicateTaskError_CarriesContext(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	user := createUser(t, store, "alice")

	_, err := engine.GrantTaskReward(ctx, user.ID, "daily", 50)
	require.NoError(t, err)
	_, err = engine.GrantTaskReward(ctx, user.ID, "daily", 50)

	var dup *ledger.DuplicateTaskError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, user.ID, dup.UserID)
	assert.Equal(t, "daily", dup.TaskType)
}
