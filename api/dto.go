/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Field names are
  camelCase to match the original client contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response / *DTO: Types returned to clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

// =============================================================================
// AUTH FLOWS
// =============================================================================

// SignupRequest creates an account. ReferralCode, when present, is the
// referring user's ID; a bad code never blocks the signup itself.
type SignupRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// SignupResponse is returned on 201 with a fresh bearer token.
type SignupResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Coins    int64  `json:"coins"`
	Token    string `json:"token"`
}

// SigninRequest identifies the account to sign in. No password handling in
// current scope.
type SigninRequest struct {
	Username string `json:"username"`
}

// SigninResponse is returned on 200 with a fresh bearer token.
type SigninResponse struct {
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Coins      int64  `json:"coins"`
	Token      string `json:"token"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// SignoutResponse confirms token revocation.
type SignoutResponse struct {
	Message    string `json:"message"`
	IsLoggedIn bool   `json:"isLoggedIn"`
}

// =============================================================================
// USER VIEWS
// =============================================================================

// UserStateDTO is the authenticated session view.
type UserStateDTO struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Coins           int64  `json:"coins"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

// UserDTO is the plain profile view.
type UserDTO struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Coins    int64  `json:"coins"`
}

// ReferralDTO is one referral the user issued.
type ReferralDTO struct {
	ReferredID string `json:"referredUserId"`
	CreatedAt  string `json:"createdAt"`
}

// TaskDTO is one completed task.
type TaskDTO struct {
	TaskType    string `json:"taskType"`
	CoinsEarned int64  `json:"coinsEarned"`
	CompletedAt string `json:"completedAt"`
}

// StatsResponse is the read-side projection of a user's reward history.
type StatsResponse struct {
	Referrals []ReferralDTO `json:"referrals"`
	Tasks     []TaskDTO     `json:"tasks"`
}

// =============================================================================
// COIN OPERATIONS
// =============================================================================

// AddCoinsRequest grants a reward. The task type is an opaque label; the
// reserved click sentinel routes to the unlimited click reward.
type AddCoinsRequest struct {
	Amount   int64  `json:"amount"`
	TaskType string `json:"taskType"`
}

// CoinsResponse reports the balance after a credit.
type CoinsResponse struct {
	Message string `json:"message"`
	Coins   int64  `json:"coins"`
}

// ReferralLinkResponse carries the user's shareable signup link.
type ReferralLinkResponse struct {
	ReferralLink string `json:"referralLink"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body. Code is a stable machine-readable
// identifier; IsAuthenticated is set (false) only on auth failures so
// clients can distinguish an expired session from a domain rejection.
type ErrorResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code,omitempty"`
	IsAuthenticated *bool  `json:"isAuthenticated,omitempty"`
}
