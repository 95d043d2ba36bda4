/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.AccountStore, ledger.FactStore, ledger.TxStore and the
  auth revocation store using SQLite. In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The fact tables are append-only:
  - No UPDATE statements on referrals, task_completions, coin_clicks
  - No DELETE statements on them either
  The only mutable columns in the schema are users.coins and
  users.last_login_at.

KEY TABLES:
  users:            Accounts with the stored coin balance
  referrals:        One row per referred user   (UNIQUE referred_id)
  task_completions: One row per (user, task)    (UNIQUE user_id, task_type)
  coin_clicks:      Unlimited click facts
  revoked_tokens:   Signed-out token IDs, kept until natural expiry

CONSTRAINT TRANSLATION:
  Uniqueness violations are translated into domain errors here, at the
  storage boundary, so the engine and handlers never see driver errors:
    users.username                        -> ledger.ErrDuplicateUsername
    referrals.referred_id                 -> ledger.DuplicateReferralError
    task_completions.(user_id, task_type) -> ledger.DuplicateTaskError

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. SQLite has one writer
  at a time anyway; with PostgreSQL, database-level concurrency control
  replaces both. WAL mode keeps readers unblocked.

USAGE:
  store, err := sqlite.New("./data/coins.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/engine.go: The only balance-mutating caller
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/coin-ledger/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A :memory: database exists per connection; the pool must not fan out.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts. username is the external identity; coins is the stored
	-- aggregate maintained by the engine.
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		coins INTEGER NOT NULL DEFAULT 0 CHECK (coins >= 0),
		last_login_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Referral facts (append-only).
	-- CRITICAL: a user is referred at most once. The unique index, not any
	-- application-level check, decides concurrent signups with the same
	-- referred user.
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL REFERENCES users(id),
		referred_id TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_referrals_referred
		ON referrals(referred_id);
	CREATE INDEX IF NOT EXISTS idx_referrals_referrer
		ON referrals(referrer_id);

	-- Task completion facts (append-only).
	-- CRITICAL: one reward per (user, task type). Concurrent grants race at
	-- this index; the loser's transaction rolls back.
	CREATE TABLE IF NOT EXISTS task_completions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		task_type TEXT NOT NULL,
		coins_earned INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_task_completions_user_task
		ON task_completions(user_id, task_type);

	-- Click facts (append-only, unlimited).
	CREATE TABLE IF NOT EXISTS coin_clicks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		coins_earned INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_coin_clicks_user
		ON coin_clicks(user_id);

	-- Signed-out bearer tokens, by token ID, until their natural expiry.
	CREATE TABLE IF NOT EXISTS revoked_tokens (
		jti TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		revoked_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires
		ON revoked_tokens(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx so every operation can
// run standalone or inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

// CreateAccount inserts a new user with a zero balance.
func (s *Store) CreateAccount(ctx context.Context, username, email string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return createAccount(ctx, s.db, username, email)
}

func createAccount(ctx context.Context, q querier, username, email string) (ledger.User, error) {
	now := time.Now().UTC()
	u := ledger.User{
		ID:        ledger.UserID(uuid.NewString()),
		Username:  username,
		Email:     email,
		Coins:     0,
		CreatedAt: now,
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, username, email, coins, created_at) VALUES (?, ?, ?, 0, ?)`,
		u.ID, u.Username, u.Email, now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.User{}, ledger.ErrDuplicateUsername
		}
		return ledger.User{}, wrapStoreErr("failed to create account", err)
	}
	return u, nil
}

// GetByUsername returns a user by username.
func (s *Store) GetByUsername(ctx context.Context, username string) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, coins, last_login_at, created_at FROM users WHERE username = ?`,
		username))
}

// GetByID returns a user by ID.
func (s *Store) GetByID(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getByID(ctx, s.db, id)
}

func getByID(ctx context.Context, q querier, id ledger.UserID) (ledger.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT id, username, email, coins, last_login_at, created_at FROM users WHERE id = ?`,
		id))
}

func scanUser(row *sql.Row) (ledger.User, error) {
	var (
		u           ledger.User
		lastLoginAt sql.NullString
		createdAt   string
	)

	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Coins, &lastLoginAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	if err != nil {
		return ledger.User{}, wrapStoreErr("failed to scan user", err)
	}

	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastLoginAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastLoginAt.String)
		u.LastLoginAt = &t
	}
	return u, nil
}

// AdjustBalance atomically adds delta to a user's coins and returns the new
// balance.
func (s *Store) AdjustBalance(ctx context.Context, id ledger.UserID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return adjustBalance(ctx, s.db, id, delta)
}

func adjustBalance(ctx context.Context, q querier, id ledger.UserID, delta int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE users SET coins = coins + ? WHERE id = ?`, delta, id)
	if err != nil {
		return 0, wrapStoreErr("failed to adjust balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapStoreErr("failed to adjust balance", err)
	}
	if n == 0 {
		return 0, ledger.ErrUserNotFound
	}

	var coins int64
	if err := q.QueryRowContext(ctx,
		`SELECT coins FROM users WHERE id = ?`, id).Scan(&coins); err != nil {
		return 0, wrapStoreErr("failed to read balance", err)
	}
	return coins, nil
}

// TouchLastLogin stamps the user's last login time.
func (s *Store) TouchLastLogin(ctx context.Context, id ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return wrapStoreErr("failed to touch last login", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// FACT STORE (ledger.FactStore interface)
// =============================================================================

// RecordReferral appends a referral fact.
func (s *Store) RecordReferral(ctx context.Context, referrerID, referredID ledger.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return recordReferral(ctx, s.db, referrerID, referredID)
}

func recordReferral(ctx context.Context, q querier, referrerID, referredID ledger.UserID) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO referrals (id, referrer_id, referred_id, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), referrerID, referredID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.DuplicateReferralError{ReferredID: referredID}
		}
		if isForeignKeyError(err) {
			return ledger.ErrUserNotFound
		}
		return wrapStoreErr("failed to record referral", err)
	}
	return nil
}

// HasCompletedTask reports whether a (user, task type) fact exists.
func (s *Store) HasCompletedTask(ctx context.Context, userID ledger.UserID, taskType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_completions WHERE user_id = ? AND task_type = ?`,
		userID, taskType,
	).Scan(&count)
	if err != nil {
		return false, wrapStoreErr("failed to check task completion", err)
	}
	return count > 0, nil
}

// RecordTaskCompletion appends a task completion fact.
func (s *Store) RecordTaskCompletion(ctx context.Context, userID ledger.UserID, taskType string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return recordTaskCompletion(ctx, s.db, userID, taskType, amount)
}

func recordTaskCompletion(ctx context.Context, q querier, userID ledger.UserID, taskType string, amount int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO task_completions (id, user_id, task_type, coins_earned, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, taskType, amount, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.DuplicateTaskError{UserID: userID, TaskType: taskType}
		}
		if isForeignKeyError(err) {
			return ledger.ErrUserNotFound
		}
		return wrapStoreErr("failed to record task completion", err)
	}
	return nil
}

// RecordCoinClick appends a click fact.
func (s *Store) RecordCoinClick(ctx context.Context, userID ledger.UserID, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return recordCoinClick(ctx, s.db, userID, amount)
}

func recordCoinClick(ctx context.Context, q querier, userID ledger.UserID, amount int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO coin_clicks (id, user_id, coins_earned, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), userID, amount, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ledger.ErrUserNotFound
		}
		return wrapStoreErr("failed to record coin click", err)
	}
	return nil
}

// ListReferrals returns all referrals issued by a referrer, chronologically.
func (s *Store) ListReferrals(ctx context.Context, referrerID ledger.UserID) ([]ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, referrer_id, referred_id, created_at FROM referrals
		 WHERE referrer_id = ? ORDER BY created_at ASC`,
		referrerID)
	if err != nil {
		return nil, wrapStoreErr("failed to query referrals", err)
	}
	defer rows.Close()

	var referrals []ledger.Referral
	for rows.Next() {
		var (
			r         ledger.Referral
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &createdAt); err != nil {
			return nil, wrapStoreErr("failed to scan referral", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		referrals = append(referrals, r)
	}
	return referrals, rows.Err()
}

// ListTaskCompletions returns all task facts for a user, chronologically.
func (s *Store) ListTaskCompletions(ctx context.Context, userID ledger.UserID) ([]ledger.TaskCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_type, coins_earned, created_at FROM task_completions
		 WHERE user_id = ? ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, wrapStoreErr("failed to query task completions", err)
	}
	defer rows.Close()

	var tasks []ledger.TaskCompletion
	for rows.Next() {
		var (
			t         ledger.TaskCompletion
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.TaskType, &t.CoinsEarned, &createdAt); err != nil {
			return nil, wrapStoreErr("failed to scan task completion", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListCoinClicks returns all click facts for a user, chronologically.
func (s *Store) ListCoinClicks(ctx context.Context, userID ledger.UserID) ([]ledger.CoinClick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, coins_earned, created_at FROM coin_clicks
		 WHERE user_id = ? ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, wrapStoreErr("failed to query coin clicks", err)
	}
	defer rows.Close()

	var clicks []ledger.CoinClick
	for rows.Next() {
		var (
			c         ledger.CoinClick
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.CoinsEarned, &createdAt); err != nil {
			return nil, wrapStoreErr("failed to scan coin click", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		clicks = append(clicks, c)
	}
	return clicks, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. If fn returns an
// error, the transaction is rolled back and no partial state persists.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("failed to begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return wrapStoreErr("failed to commit transaction", err)
	}
	return nil
}

// txStore runs every operation against the open sql.Tx. It takes no locks:
// WithTx already holds the store mutex for the whole transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateAccount(ctx context.Context, username, email string) (ledger.User, error) {
	return createAccount(ctx, ts.tx, username, email)
}

func (ts *txStore) GetByUsername(ctx context.Context, username string) (ledger.User, error) {
	return scanUser(ts.tx.QueryRowContext(ctx,
		`SELECT id, username, email, coins, last_login_at, created_at FROM users WHERE username = ?`,
		username))
}

func (ts *txStore) GetByID(ctx context.Context, id ledger.UserID) (ledger.User, error) {
	return getByID(ctx, ts.tx, id)
}

func (ts *txStore) AdjustBalance(ctx context.Context, id ledger.UserID, delta int64) (int64, error) {
	return adjustBalance(ctx, ts.tx, id, delta)
}

func (ts *txStore) TouchLastLogin(ctx context.Context, id ledger.UserID) error {
	_, err := ts.tx.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (ts *txStore) RecordReferral(ctx context.Context, referrerID, referredID ledger.UserID) error {
	return recordReferral(ctx, ts.tx, referrerID, referredID)
}

func (ts *txStore) HasCompletedTask(ctx context.Context, userID ledger.UserID, taskType string) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_completions WHERE user_id = ? AND task_type = ?`,
		userID, taskType,
	).Scan(&count)
	return count > 0, err
}

func (ts *txStore) RecordTaskCompletion(ctx context.Context, userID ledger.UserID, taskType string, amount int64) error {
	return recordTaskCompletion(ctx, ts.tx, userID, taskType, amount)
}

func (ts *txStore) RecordCoinClick(ctx context.Context, userID ledger.UserID, amount int64) error {
	return recordCoinClick(ctx, ts.tx, userID, amount)
}

// List projections are read-side operations; the engine never calls them
// inside a balance transaction.

func (ts *txStore) ListReferrals(ctx context.Context, referrerID ledger.UserID) ([]ledger.Referral, error) {
	return nil, errors.New("list operations are not supported inside a transaction")
}

func (ts *txStore) ListTaskCompletions(ctx context.Context, userID ledger.UserID) ([]ledger.TaskCompletion, error) {
	return nil, errors.New("list operations are not supported inside a transaction")
}

func (ts *txStore) ListCoinClicks(ctx context.Context, userID ledger.UserID) ([]ledger.CoinClick, error) {
	return nil, errors.New("list operations are not supported inside a transaction")
}

// =============================================================================
// TOKEN REVOCATION STORE (auth.RevocationStore interface)
// =============================================================================

// RevokeToken records a signed-out token ID until its natural expiry.
// Revoking the same token twice is a no-op.
func (s *Store) RevokeToken(ctx context.Context, jti string, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (jti, user_id, expires_at, revoked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(jti) DO NOTHING`,
		jti, userID, expiresAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return wrapStoreErr("failed to revoke token", err)
	}
	return nil
}

// IsTokenRevoked reports whether a token ID has been revoked.
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&count)
	if err != nil {
		return false, wrapStoreErr("failed to check token revocation", err)
	}
	return count > 0, nil
}

// PurgeExpiredTokens removes revocation rows whose tokens have expired
// anyway. Revocation only needs to outlive the token.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at < ?`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, wrapStoreErr("failed to purge revoked tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// Fact tables reference users(id), so an insert for a nonexistent user
// surfaces as a foreign key violation.
func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// wrapStoreErr classifies timeouts and cancellations as transient so callers
// can distinguish them from domain failures.
func wrapStoreErr(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", msg, ledger.ErrTransientStore, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
