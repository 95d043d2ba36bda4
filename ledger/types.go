/*
Package ledger provides the core coin accounting engine.

PURPOSE:
  This package contains the domain types and transaction logic for a small
  coin-rewards system. Users accumulate an integer coin balance through
  one-time task rewards, unlimited click rewards, and one-time referral
  bonuses. The Engine is the single entry point for every balance change.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: Account row with a stored, derived coin balance
  - Referral: Fact recording that one user referred another (once, at signup)
  - TaskCompletion: Fact recording a one-time task reward
  - CoinClick: Fact recording a repeatable click reward
  - UserID: Type-safe identifier

DESIGN PRINCIPLES:
  1. Facts are append-only: reward rows are never modified or deleted
  2. Balance is a stored aggregate: it must always equal the sum of fact
     credits, maintained by updating both inside one transaction
  3. Idempotency lives in the storage layer: uniqueness constraints, not
     check-then-act, decide races

USAGE:
  engine := ledger.NewEngine(store)
  coins, err := engine.GrantTaskReward(ctx, userID, "daily", 50)

SEE ALSO:
  - engine.go: The transaction logic
  - store.go: Persistence interfaces
  - errors.go: Domain error taxonomy
*/
package ledger

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string

func (id UserID) String() string { return string(id) }

// =============================================================================
// REWARD KINDS
// =============================================================================

// ReferralBonus is the fixed credit a referrer earns per referred signup.
const ReferralBonus int64 = 500

// TaskClickCoin is the reserved task label that routes to the repeatable
// click reward instead of the one-time task reward. Any other label is a
// one-time task.
const TaskClickCoin = "click_coin"

// =============================================================================
// ACCOUNT
// =============================================================================

// User is an account row. The username is immutable and unique. Coins is a
// stored aggregate mutated only by the Engine.
type User struct {
	ID          UserID
	Username    string
	Email       string
	Coins       int64
	LastLoginAt *time.Time
	CreatedAt   time.Time
}

// =============================================================================
// FACTS - Append-only reward records
// =============================================================================

// Referral records that ReferrerID referred ReferredID. At most one row per
// referred user, created at signup time only.
type Referral struct {
	ID         string
	ReferrerID UserID
	ReferredID UserID
	CreatedAt  time.Time
}

// TaskCompletion records a one-time task reward. At most one row per
// (user, task type) pair.
type TaskCompletion struct {
	ID          string
	UserID      UserID
	TaskType    string
	CoinsEarned int64
	CreatedAt   time.Time
}

// CoinClick records a repeatable click reward. No uniqueness.
type CoinClick struct {
	ID          string
	UserID      UserID
	CoinsEarned int64
	CreatedAt   time.Time
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// Stats is the read-side projection over a user's fact rows.
type Stats struct {
	Referrals []Referral
	Tasks     []TaskCompletion
}
