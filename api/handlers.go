/*
handlers.go - HTTP API handlers for the coin rewards system

PURPOSE:
  Exposes the coin engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every balance change to the engine.

ENDPOINTS:
  Public:
    POST /signup          Create account (optional referral code)
    POST /signin          Look up account, stamp login, issue token

  Protected (bearer token):
    POST /signout         Revoke the presented token
    GET  /user/state      Session view (isAuthenticated)
    GET  /user            Profile view
    GET  /user/stats      Referrals issued + tasks completed
    POST /add-coin        Legacy flat +1
    POST /add-coins       Task or click reward
    GET  /referral-link   Shareable signup link

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, stores)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to 4xx with a stable code (duplicate_username,
  task_already_completed, ...); auth failures to 401 with
  isAuthenticated:false; everything unexpected to a generic 500 that leaks
  nothing.

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Bearer-token verification
  - server.go: Router setup
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/warp/coin-ledger/auth"
	"github.com/warp/coin-ledger/ledger"
	"github.com/warp/coin-ledger/monitoring"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts ledger.AccountStore
	Engine   *ledger.Engine
	Auth     *auth.Issuer

	// BaseURL is the public origin used to build referral links.
	BaseURL string
}

// NewHandler creates a handler over the given store, engine and issuer.
func NewHandler(accounts ledger.AccountStore, engine *ledger.Engine, issuer *auth.Issuer, baseURL string) *Handler {
	return &Handler{
		Accounts: accounts,
		Engine:   engine,
		Auth:     issuer,
		BaseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// =============================================================================
// AUTH FLOWS
// =============================================================================

// Signup creates an account and issues a token.
// POST /signup
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required", "validation_failed")
		return
	}

	user, err := h.Accounts.CreateAccount(r.Context(), req.Username, req.Email)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	monitoring.SignupsTotal.Inc()

	// The referral bonus path is independent of account creation: a bad,
	// duplicate, or nonexistent code is logged and swallowed so signup
	// itself always succeeds.
	if req.ReferralCode != "" {
		referrer := ledger.UserID(req.ReferralCode)
		if err := h.Engine.GrantSignupReferral(r.Context(), referrer, user.ID); err != nil {
			log.Printf("signup %s: referral code %q not credited: %v", user.Username, req.ReferralCode, err)
			monitoring.GrantRejectionsTotal.WithLabelValues("referral").Inc()
		} else {
			monitoring.GrantsTotal.WithLabelValues("referral").Inc()
		}
	}

	token, err := h.Auth.Issue(string(user.ID), user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", "")
		return
	}

	writeJSON(w, http.StatusCreated, SignupResponse{
		UserID:   string(user.ID),
		Username: user.Username,
		Email:    user.Email,
		Coins:    user.Coins,
		Token:    token,
	})
}

// Signin looks up an account by username, stamps the login time, and issues
// a fresh token.
// POST /signin
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required", "validation_failed")
		return
	}

	user, err := h.Accounts.GetByUsername(r.Context(), req.Username)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.Accounts.TouchLastLogin(r.Context(), user.ID); err != nil {
		log.Printf("signin %s: failed to stamp last login: %v", user.Username, err)
	}

	token, err := h.Auth.Issue(string(user.ID), user.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", "")
		return
	}

	writeJSON(w, http.StatusOK, SigninResponse{
		UserID:     string(user.ID),
		Username:   user.Username,
		Email:      user.Email,
		Coins:      user.Coins,
		Token:      token,
		IsLoggedIn: true,
	})
}

// Signout revokes the presented token. Further requests with it fail with
// 401 until it would have expired anyway.
// POST /signout
func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	if err := h.Auth.Revoke(r.Context(), claims); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sign out", "")
		return
	}

	writeJSON(w, http.StatusOK, SignoutResponse{
		Message:    "signed out",
		IsLoggedIn: false,
	})
}

// =============================================================================
// USER VIEWS
// =============================================================================

// UserState returns the authenticated session view.
// GET /user/state
func (h *Handler) UserState(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, UserStateDTO{
		UserID:          string(user.ID),
		Username:        user.Username,
		Email:           user.Email,
		Coins:           user.Coins,
		IsAuthenticated: true,
	})
}

// GetUser returns the profile view.
// GET /user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, UserDTO{
		UserID:   string(user.ID),
		Username: user.Username,
		Email:    user.Email,
		Coins:    user.Coins,
	})
}

// GetStats returns the user's referrals issued and tasks completed.
// GET /user/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	stats, err := h.Engine.GetStats(r.Context(), ledger.UserID(claims.UserID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := StatsResponse{
		Referrals: make([]ReferralDTO, len(stats.Referrals)),
		Tasks:     make([]TaskDTO, len(stats.Tasks)),
	}
	for i, ref := range stats.Referrals {
		resp.Referrals[i] = ReferralDTO{
			ReferredID: string(ref.ReferredID),
			CreatedAt:  ref.CreatedAt.Format(time.RFC3339),
		}
	}
	for i, task := range stats.Tasks {
		resp.Tasks[i] = TaskDTO{
			TaskType:    task.TaskType,
			CoinsEarned: task.CoinsEarned,
			CompletedAt: task.CreatedAt.Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// COIN OPERATIONS
// =============================================================================

// AddCoin is the legacy flat +1 credit.
// POST /add-coin
func (h *Handler) AddCoin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	coins, err := h.Engine.AddCoin(r.Context(), ledger.UserID(claims.UserID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	monitoring.GrantsTotal.WithLabelValues("legacy_add").Inc()

	writeJSON(w, http.StatusOK, CoinsResponse{
		Message: "coin added",
		Coins:   coins,
	})
}

// AddCoins grants a task or click reward depending on the task label.
// POST /add-coins
func (h *Handler) AddCoins(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req AddCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation_failed")
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusBadRequest, "taskType is required", "validation_failed")
		return
	}

	kind := "task"
	if req.TaskType == ledger.TaskClickCoin {
		kind = "click"
	}

	coins, err := h.Engine.GrantReward(r.Context(), ledger.UserID(claims.UserID), req.TaskType, req.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrTaskAlreadyCompleted) {
			monitoring.GrantRejectionsTotal.WithLabelValues(kind).Inc()
		}
		h.writeDomainError(w, err)
		return
	}
	monitoring.GrantsTotal.WithLabelValues(kind).Inc()

	writeJSON(w, http.StatusOK, CoinsResponse{
		Message: fmt.Sprintf("%d coins added", req.Amount),
		Coins:   coins,
	})
}

// ReferralLink returns the user's shareable signup link. The embedded code
// is the user's own ID, which signup accepts as referralCode.
// GET /referral-link
func (h *Handler) ReferralLink(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	writeJSON(w, http.StatusOK, ReferralLinkResponse{
		ReferralLink: fmt.Sprintf("%s/signup?ref=%s", h.BaseURL, claims.UserID),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// currentUser loads the authenticated user's account row, writing the error
// response itself on failure.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (ledger.User, bool) {
	claims := claimsFrom(r.Context())

	user, err := h.Accounts.GetByID(r.Context(), ledger.UserID(claims.UserID))
	if err != nil {
		h.writeDomainError(w, err)
		return ledger.User{}, false
	}
	return user, true
}

// writeDomainError maps ledger errors onto the stable HTTP error contract.
// Unexpected errors become a generic 500 without leaking internals.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrDuplicateUsername):
		writeError(w, http.StatusBadRequest, "username already taken", "duplicate_username")
	case errors.Is(err, ledger.ErrTaskAlreadyCompleted):
		writeError(w, http.StatusBadRequest, "task already completed", "task_already_completed")
	case errors.Is(err, ledger.ErrReferralAlreadyRecorded):
		writeError(w, http.StatusBadRequest, "referral already recorded", "referral_already_recorded")
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be a positive integer", "validation_failed")
	case errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found", "not_found")
	case errors.Is(err, ledger.ErrTransientStore):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry", "transient_failure")
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
