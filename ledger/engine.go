/*
engine.go - The coin transaction engine

PURPOSE:
  Single entry point for every balance-changing operation. Guarantees that a
  fact insert and its balance credit happen together or not at all, and
  enforces the per-kind idempotency rules:

    referral:  one-time per referred user   (UNIQUE referred_id)
    task:      one-time per (user, task)    (UNIQUE user_id, task_type)
    click:     unlimited                    (no constraint)

CONCURRENCY MODEL:
  No in-process locks. Two concurrent grants for the same (user, task) are
  serialized by the storage-level uniqueness constraint: the loser observes
  the constraint violation, already translated to ErrTaskAlreadyCompleted,
  and its whole transaction rolls back. The HasCompletedTask pre-check is
  advisory only - it gives a cheap early rejection but is never the guard.

BALANCE INVARIANT:
  For every user:
    coins == 500 * referrals issued
           + sum of task completion amounts
           + sum of coin click amounts
           + legacy single-coin adds
  Maintained because both sides of every credit run in one WithTx.

SEE ALSO:
  - store.go: TxStore contract
  - errors.go: Domain errors surfaced here
*/
package ledger

import (
	"context"
	"fmt"
)

// Engine executes all balance-changing operations against a TxStore.
type Engine struct {
	store TxStore
}

// NewEngine creates an engine backed by the given transactional store.
func NewEngine(store TxStore) *Engine {
	return &Engine{store: store}
}

// =============================================================================
// REFERRAL REWARDS
// =============================================================================

// GrantSignupReferral records that referrerID referred referredID and
// credits the referrer's balance with the fixed bonus, atomically.
//
// Fails with ErrReferralAlreadyRecorded if the referred user already has a
// referral row, and with ErrUserNotFound if the referrer does not exist. In
// both cases nothing is persisted. Callers on the signup path swallow these
// errors: a bad referral code must never block account creation.
func (e *Engine) GrantSignupReferral(ctx context.Context, referrerID, referredID UserID) error {
	return e.store.WithTx(ctx, func(s Store) error {
		if err := s.RecordReferral(ctx, referrerID, referredID); err != nil {
			return err
		}
		if _, err := s.AdjustBalance(ctx, referrerID, ReferralBonus); err != nil {
			return err
		}
		return nil
	})
}

// =============================================================================
// TASK AND CLICK REWARDS
// =============================================================================

// GrantTaskReward credits a one-time task reward and returns the user's new
// balance. If the (user, task type) pair was already rewarded - whether
// observed by the advisory pre-check or by losing a race at the constraint -
// it returns ErrTaskAlreadyCompleted and applies no balance change.
func (e *Engine) GrantTaskReward(ctx context.Context, userID UserID, taskType string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	// Advisory early rejection. The constraint inside the transaction is
	// the actual guarantee.
	done, err := e.store.HasCompletedTask(ctx, userID, taskType)
	if err != nil {
		return 0, err
	}
	if done {
		return 0, &DuplicateTaskError{UserID: userID, TaskType: taskType}
	}

	var balance int64
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.RecordTaskCompletion(ctx, userID, taskType, amount); err != nil {
			return err
		}
		balance, err = s.AdjustBalance(ctx, userID, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GrantClickReward credits a repeatable click reward and returns the new
// balance. No precondition: N calls produce N fact rows and N credits.
func (e *Engine) GrantClickReward(ctx context.Context, userID UserID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	err := e.store.WithTx(ctx, func(s Store) error {
		if err := s.RecordCoinClick(ctx, userID, amount); err != nil {
			return err
		}
		var err error
		balance, err = s.AdjustBalance(ctx, userID, amount)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// GrantReward dispatches on the task label: the reserved click sentinel goes
// to the unlimited click path, anything else is a one-time task. The label
// is an opaque caller-supplied string, not a closed catalog.
func (e *Engine) GrantReward(ctx context.Context, userID UserID, taskType string, amount int64) (int64, error) {
	if taskType == TaskClickCoin {
		return e.GrantClickReward(ctx, userID, amount)
	}
	return e.GrantTaskReward(ctx, userID, taskType, amount)
}

// AddCoin is the legacy flat +1 credit. It is the one balance change with no
// fact row, kept for compatibility with the original coin button.
func (e *Engine) AddCoin(ctx context.Context, userID UserID) (int64, error) {
	return e.store.AdjustBalance(ctx, userID, 1)
}

// =============================================================================
// READ SIDE
// =============================================================================

// GetBalance returns the user's current coin balance.
func (e *Engine) GetBalance(ctx context.Context, userID UserID) (int64, error) {
	u, err := e.store.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Coins, nil
}

// GetStats returns the user's referrals issued and tasks completed. Pure
// projection over the fact tables; no concurrency concerns beyond read
// consistency.
func (e *Engine) GetStats(ctx context.Context, userID UserID) (Stats, error) {
	if _, err := e.store.GetByID(ctx, userID); err != nil {
		return Stats{}, err
	}

	referrals, err := e.store.ListReferrals(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list referrals: %w", err)
	}
	tasks, err := e.store.ListTaskCompletions(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list task completions: %w", err)
	}

	return Stats{Referrals: referrals, Tasks: tasks}, nil
}

// CheckBalanceInvariant recomputes a user's balance from the fact tables and
// compares it to the stored aggregate. Used by tests and diagnostics; the
// legacy AddCoin credits are passed in because they leave no fact row.
func (e *Engine) CheckBalanceInvariant(ctx context.Context, userID UserID, legacyCredits int64) error {
	u, err := e.store.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	referrals, err := e.store.ListReferrals(ctx, userID)
	if err != nil {
		return err
	}
	tasks, err := e.store.ListTaskCompletions(ctx, userID)
	if err != nil {
		return err
	}
	clicks, err := e.store.ListCoinClicks(ctx, userID)
	if err != nil {
		return err
	}

	expected := ReferralBonus*int64(len(referrals)) + legacyCredits
	for _, t := range tasks {
		expected += t.CoinsEarned
	}
	for _, c := range clicks {
		expected += c.CoinsEarned
	}

	if u.Coins != expected {
		return fmt.Errorf("balance invariant violated for %s: stored %d, facts sum to %d",
			userID, u.Coins, expected)
	}
	return nil
}
