/*
errors.go - Centralized error types for the coin engine

PURPOSE:
  All domain errors in one place for consistency and discoverability.
  Storage implementations translate raw constraint violations into these
  errors at the boundary; callers never see driver errors.

ERROR CATEGORIES:
  1. Uniqueness errors - A reward was already granted (expected under races)
  2. Lookup errors - Missing user
  3. Store errors - Connection / timeout failures

USAGE:
  if errors.Is(err, ledger.ErrTaskAlreadyCompleted) {
      // reject with 400, balance unchanged
  }

SEE ALSO:
  - engine.go: Returns these errors
  - store/sqlite: Produces them from constraint violations
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateUsername is returned when creating an account with a
	// username that already exists.
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrReferralAlreadyRecorded is returned when the referred user already
	// has a referral row. A user is referred at most once.
	ErrReferralAlreadyRecorded = errors.New("referral already recorded")

	// ErrTaskAlreadyCompleted is returned when a (user, task type) reward
	// was already granted. Tasks are one-time rewards; the storage-level
	// uniqueness constraint is the actual guarantee under concurrency.
	ErrTaskAlreadyCompleted = errors.New("task already completed")

	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidAmount is returned for zero or negative reward amounts.
	ErrInvalidAmount = errors.New("reward amount must be positive")

	// ErrTransientStore is returned for connection or timeout failures.
	// These may succeed on retry.
	ErrTransientStore = errors.New("transient store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateTaskError identifies which (user, task) pair lost the race.
type DuplicateTaskError struct {
	UserID   UserID
	TaskType string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already completed by user %s", e.TaskType, e.UserID)
}

func (e *DuplicateTaskError) Unwrap() error {
	return ErrTaskAlreadyCompleted
}

// DuplicateReferralError identifies the referred user who already has a row.
type DuplicateReferralError struct {
	ReferredID UserID
}

func (e *DuplicateReferralError) Error() string {
	return fmt.Sprintf("user %s was already referred", e.ReferredID)
}

func (e *DuplicateReferralError) Unwrap() error {
	return ErrReferralAlreadyRecorded
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request,
// not a server fault. These map to 4xx responses.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateUsername) ||
		errors.Is(err, ErrReferralAlreadyRecorded) ||
		errors.Is(err, ErrTaskAlreadyCompleted) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing user.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}
