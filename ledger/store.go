/*
store.go - Persistence interfaces for accounts and reward facts

PURPOSE:
  Defines the interface between the domain logic and the database. The fact
  tables are append-only; accounts expose exactly the mutations the Engine
  needs. Different implementations can use SQLite, PostgreSQL, or in-memory
  storage.

KEY INTERFACES:
  AccountStore: User rows (create, lookup, balance adjustment)
  FactStore:    Append-only reward facts and their read projections
  Store:        AccountStore + FactStore (what the Engine works against)
  TxStore:      Store with atomic multi-table transactions

APPEND-ONLY CONTRACT:
  FactStore has no update or delete methods. Reward rows, once written, are
  permanent. The uniqueness guarantees live in the schema:
  - referrals:        UNIQUE(referred_id)
  - task_completions: UNIQUE(user_id, task_type)
  - coin_clicks:      no uniqueness (unlimited)

ATOMICITY:
  Every balance-changing operation pairs a fact insert with a balance update.
  WithTx ensures both happen or neither does. A fact row without its credit
  (or vice versa) is a correctness violation.

SEE ALSO:
  - engine.go: The only caller that mutates balances
  - store/sqlite/sqlite.go: Concrete implementation
*/
package ledger

import "context"

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// AccountStore handles user rows.
type AccountStore interface {
	// CreateAccount inserts a new user with a zero balance. Returns
	// ErrDuplicateUsername if the username exists (enforced by the store's
	// unique constraint, never by a prior lookup).
	CreateAccount(ctx context.Context, username, email string) (User, error)

	// GetByUsername returns a user or ErrUserNotFound.
	GetByUsername(ctx context.Context, username string) (User, error)

	// GetByID returns a user or ErrUserNotFound.
	GetByID(ctx context.Context, id UserID) (User, error)

	// AdjustBalance atomically adds delta to the user's coins and returns
	// the new balance. Called only inside an Engine transaction, except for
	// the legacy single-coin add.
	AdjustBalance(ctx context.Context, id UserID, delta int64) (int64, error)

	// TouchLastLogin stamps the user's last login time.
	TouchLastLogin(ctx context.Context, id UserID) error
}

// =============================================================================
// FACT STORE - Append-only reward records
// =============================================================================

// FactStore handles the three reward fact tables.
type FactStore interface {
	// RecordReferral appends a referral fact. Returns a
	// DuplicateReferralError if referredID already has a row.
	RecordReferral(ctx context.Context, referrerID, referredID UserID) error

	// HasCompletedTask reports whether a (user, task type) fact exists.
	// Advisory only: used for early rejection, not as the race guard.
	HasCompletedTask(ctx context.Context, userID UserID, taskType string) (bool, error)

	// RecordTaskCompletion appends a task fact. Returns a DuplicateTaskError
	// if the (user, task type) constraint fires.
	RecordTaskCompletion(ctx context.Context, userID UserID, taskType string, amount int64) error

	// RecordCoinClick appends a click fact. Always succeeds.
	RecordCoinClick(ctx context.Context, userID UserID, amount int64) error

	// ListReferrals returns all referrals issued by a referrer,
	// chronologically.
	ListReferrals(ctx context.Context, referrerID UserID) ([]Referral, error)

	// ListTaskCompletions returns all task facts for a user,
	// chronologically.
	ListTaskCompletions(ctx context.Context, userID UserID) ([]TaskCompletion, error)

	// ListCoinClicks returns all click facts for a user, chronologically.
	ListCoinClicks(ctx context.Context, userID UserID) ([]CoinClick, error)
}

// Store is everything the Engine needs from persistence.
type Store interface {
	AccountStore
	FactStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
//
// WithTx executes fn within a single database transaction. If fn returns an
// error, every write inside it is rolled back; if fn returns nil, all are
// committed. The Store handed to fn must not be retained after fn returns.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
