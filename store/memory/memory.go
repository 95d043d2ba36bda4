// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/coin-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store keeps all state in maps guarded by one mutex. It enforces the same
// uniqueness rules as the SQL schema: unique usernames, one referral per
// referred user, one task completion per (user, task type).
type Store struct {
	mu        sync.RWMutex
	users     map[ledger.UserID]*ledger.User
	usernames map[string]ledger.UserID
	referrals []ledger.Referral
	referred  map[ledger.UserID]bool
	tasks     []ledger.TaskCompletion
	taskDone  map[taskKey]bool
	clicks    []ledger.CoinClick
	revoked   map[string]time.Time
}

type taskKey struct {
	UserID   ledger.UserID
	TaskType string
}

func New() *Store {
	return &Store{
		users:     make(map[ledger.UserID]*ledger.User),
		usernames: make(map[string]ledger.UserID),
		referred:  make(map[ledger.UserID]bool),
		taskDone:  make(map[taskKey]bool),
		revoked:   make(map[string]time.Time),
	}
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Store) CreateAccount(_ context.Context, username, email string) (ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAccountLocked(username, email)
}

func (m *Store) createAccountLocked(username, email string) (ledger.User, error) {
	if _, exists := m.usernames[username]; exists {
		return ledger.User{}, ledger.ErrDuplicateUsername
	}

	u := ledger.User{
		ID:        ledger.UserID(uuid.NewString()),
		Username:  username,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	m.users[u.ID] = &u
	m.usernames[username] = u.ID
	return u, nil
}

func (m *Store) GetByUsername(_ context.Context, username string) (ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usernames[username]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return *m.users[id], nil
}

func (m *Store) GetByID(_ context.Context, id ledger.UserID) (ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getByIDLocked(id)
}

func (m *Store) getByIDLocked(id ledger.UserID) (ledger.User, error) {
	u, ok := m.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return *u, nil
}

func (m *Store) AdjustBalance(_ context.Context, id ledger.UserID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBalanceLocked(id, delta)
}

func (m *Store) adjustBalanceLocked(id ledger.UserID, delta int64) (int64, error) {
	u, ok := m.users[id]
	if !ok {
		return 0, ledger.ErrUserNotFound
	}
	u.Coins += delta
	return u.Coins, nil
}

func (m *Store) TouchLastLogin(_ context.Context, id ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ledger.ErrUserNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

// =============================================================================
// FACT STORE
// =============================================================================

func (m *Store) RecordReferral(_ context.Context, referrerID, referredID ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordReferralLocked(referrerID, referredID)
}

func (m *Store) recordReferralLocked(referrerID, referredID ledger.UserID) error {
	if m.referred[referredID] {
		return &ledger.DuplicateReferralError{ReferredID: referredID}
	}
	if _, ok := m.users[referrerID]; !ok {
		return ledger.ErrUserNotFound
	}

	m.referrals = append(m.referrals, ledger.Referral{
		ID:         uuid.NewString(),
		ReferrerID: referrerID,
		ReferredID: referredID,
		CreatedAt:  time.Now().UTC(),
	})
	m.referred[referredID] = true
	return nil
}

func (m *Store) HasCompletedTask(_ context.Context, userID ledger.UserID, taskType string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskDone[taskKey{userID, taskType}], nil
}

func (m *Store) RecordTaskCompletion(_ context.Context, userID ledger.UserID, taskType string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordTaskCompletionLocked(userID, taskType, amount)
}

func (m *Store) recordTaskCompletionLocked(userID ledger.UserID, taskType string, amount int64) error {
	k := taskKey{userID, taskType}
	if m.taskDone[k] {
		return &ledger.DuplicateTaskError{UserID: userID, TaskType: taskType}
	}
	if _, ok := m.users[userID]; !ok {
		return ledger.ErrUserNotFound
	}

	m.tasks = append(m.tasks, ledger.TaskCompletion{
		ID:          uuid.NewString(),
		UserID:      userID,
		TaskType:    taskType,
		CoinsEarned: amount,
		CreatedAt:   time.Now().UTC(),
	})
	m.taskDone[k] = true
	return nil
}

func (m *Store) RecordCoinClick(_ context.Context, userID ledger.UserID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordCoinClickLocked(userID, amount)
}

func (m *Store) recordCoinClickLocked(userID ledger.UserID, amount int64) error {
	if _, ok := m.users[userID]; !ok {
		return ledger.ErrUserNotFound
	}

	m.clicks = append(m.clicks, ledger.CoinClick{
		ID:          uuid.NewString(),
		UserID:      userID,
		CoinsEarned: amount,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

func (m *Store) ListReferrals(_ context.Context, referrerID ledger.UserID) ([]ledger.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Referral
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Store) ListTaskCompletions(_ context.Context, userID ledger.UserID) ([]ledger.TaskCompletion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.TaskCompletion
	for _, t := range m.tasks {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *Store) ListCoinClicks(_ context.Context, userID ledger.UserID) ([]ledger.CoinClick, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.CoinClick
	for _, c := range m.clicks {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on
// error. The mutex is held for the whole transaction, so the snapshot is
// consistent and no other writer interleaves.
func (m *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users     map[ledger.UserID]*ledger.User
	usernames map[string]ledger.UserID
	referrals []ledger.Referral
	referred  map[ledger.UserID]bool
	tasks     []ledger.TaskCompletion
	taskDone  map[taskKey]bool
	clicks    []ledger.CoinClick
}

func (m *Store) snapshot() snapshot {
	users := make(map[ledger.UserID]*ledger.User, len(m.users))
	for id, u := range m.users {
		cp := *u
		users[id] = &cp
	}
	usernames := make(map[string]ledger.UserID, len(m.usernames))
	for name, id := range m.usernames {
		usernames[name] = id
	}
	referred := make(map[ledger.UserID]bool, len(m.referred))
	for id, v := range m.referred {
		referred[id] = v
	}
	taskDone := make(map[taskKey]bool, len(m.taskDone))
	for k, v := range m.taskDone {
		taskDone[k] = v
	}
	return snapshot{
		users:     users,
		usernames: usernames,
		referrals: append([]ledger.Referral{}, m.referrals...),
		referred:  referred,
		tasks:     append([]ledger.TaskCompletion{}, m.tasks...),
		taskDone:  taskDone,
		clicks:    append([]ledger.CoinClick{}, m.clicks...),
	}
}

func (m *Store) restore(s snapshot) {
	m.users = s.users
	m.usernames = s.usernames
	m.referrals = s.referrals
	m.referred = s.referred
	m.tasks = s.tasks
	m.taskDone = s.taskDone
	m.clicks = s.clicks
}

// txView runs every operation against the parent's locked maps. It takes no
// locks: WithTx already holds the store mutex for the whole transaction.
type txView struct {
	parent *Store
}

func (tv *txView) CreateAccount(_ context.Context, username, email string) (ledger.User, error) {
	return tv.parent.createAccountLocked(username, email)
}

func (tv *txView) GetByUsername(_ context.Context, username string) (ledger.User, error) {
	id, ok := tv.parent.usernames[username]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return *tv.parent.users[id], nil
}

func (tv *txView) GetByID(_ context.Context, id ledger.UserID) (ledger.User, error) {
	return tv.parent.getByIDLocked(id)
}

func (tv *txView) AdjustBalance(_ context.Context, id ledger.UserID, delta int64) (int64, error) {
	return tv.parent.adjustBalanceLocked(id, delta)
}

func (tv *txView) TouchLastLogin(_ context.Context, id ledger.UserID) error {
	u, ok := tv.parent.users[id]
	if !ok {
		return ledger.ErrUserNotFound
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	return nil
}

func (tv *txView) RecordReferral(_ context.Context, referrerID, referredID ledger.UserID) error {
	return tv.parent.recordReferralLocked(referrerID, referredID)
}

func (tv *txView) HasCompletedTask(_ context.Context, userID ledger.UserID, taskType string) (bool, error) {
	return tv.parent.taskDone[taskKey{userID, taskType}], nil
}

func (tv *txView) RecordTaskCompletion(_ context.Context, userID ledger.UserID, taskType string, amount int64) error {
	return tv.parent.recordTaskCompletionLocked(userID, taskType, amount)
}

func (tv *txView) RecordCoinClick(_ context.Context, userID ledger.UserID, amount int64) error {
	return tv.parent.recordCoinClickLocked(userID, amount)
}

func (tv *txView) ListReferrals(_ context.Context, referrerID ledger.UserID) ([]ledger.Referral, error) {
	var result []ledger.Referral
	for _, r := range tv.parent.referrals {
		if r.ReferrerID == referrerID {
			result = append(result, r)
		}
	}
	return result, nil
}

func (tv *txView) ListTaskCompletions(_ context.Context, userID ledger.UserID) ([]ledger.TaskCompletion, error) {
	var result []ledger.TaskCompletion
	for _, t := range tv.parent.tasks {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (tv *txView) ListCoinClicks(_ context.Context, userID ledger.UserID) ([]ledger.CoinClick, error) {
	var result []ledger.CoinClick
	for _, c := range tv.parent.clicks {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

// =============================================================================
// TOKEN REVOCATION STORE
// =============================================================================

func (m *Store) RevokeToken(_ context.Context, jti string, _ string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.revoked[jti]; !exists {
		m.revoked[jti] = expiresAt
	}
	return nil
}

func (m *Store) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, revoked := m.revoked[jti]
	return revoked, nil
}

func (m *Store) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for jti, expiresAt := range m.revoked {
		if expiresAt.Before(now) {
			delete(m.revoked, jti)
			purged++
		}
	}
	return purged, nil
}
