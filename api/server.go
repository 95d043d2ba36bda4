/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Timeout:    Bounded request lifetime, propagated to store calls
  5. CORS:       Cross-origin requests for the frontend
  6. BearerAuth: Token verification (protected group only)

ROUTE GROUPS:
  /signup, /signin        Public auth flows
  /signout, /user/*,
  /add-coin, /add-coins,
  /referral-link          Protected (bearer token)
  /metrics, /healthz      Operational

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Bearer-token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Public auth flows
	r.Post("/signup", h.Signup)
	r.Post("/signin", h.Signin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(h.Auth))

		r.Post("/signout", h.Signout)
		r.Get("/user/state", h.UserState)
		r.Get("/user", h.GetUser)
		r.Get("/user/stats", h.GetStats)
		r.Post("/add-coin", h.AddCoin)
		r.Post("/add-coins", h.AddCoins)
		r.Get("/referral-link", h.ReferralLink)
	})

	// Operational routes
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
