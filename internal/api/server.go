// ABOUTME: HTTP server wiring for the console API.
// ABOUTME: Builds the mux, owns handler dependencies and rate limiters.

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/frpt/frpt-console/internal/auth"
	"github.com/frpt/frpt-console/internal/ratelimit"
	"github.com/frpt/frpt-console/internal/store"
	"github.com/frpt/frpt-console/internal/ticket"
)

// Server holds the handler dependencies for the console API.
type Server struct {
	store   *store.SQLiteStore
	auth    *auth.Service
	hasher  *auth.PasswordHasher
	tickets *ticket.Broker
	limiter *ratelimit.PrincipalLimiter

	challengeLimit *ratelimit.WindowLimiter
	loginLimit     *ratelimit.WindowLimiter
	registerHourly *ratelimit.WindowLimiter
	registerBurst  *ratelimit.WindowLimiter
	resetLimit     *ratelimit.WindowLimiter

	logger *slog.Logger
}

// NewServer wires the API together. The caller owns the lifecycle of the
// store and of the limiter's background sweep.
func NewServer(st *store.SQLiteStore, authSvc *auth.Service, hasher *auth.PasswordHasher, tickets *ticket.Broker, limiter *ratelimit.PrincipalLimiter) *Server {
	return &Server{
		store:          st,
		auth:           authSvc,
		hasher:         hasher,
		tickets:        tickets,
		limiter:        limiter,
		challengeLimit: ratelimit.NewWindowLimiter(20, time.Minute),
		loginLimit:     ratelimit.NewWindowLimiter(20, time.Minute),
		registerHourly: ratelimit.NewWindowLimiter(5, time.Hour),
		registerBurst:  ratelimit.NewWindowLimiter(2, time.Minute),
		resetLimit:     ratelimit.NewWindowLimiter(5, time.Minute),
		logger:         slog.Default().With("component", "api"),
	}
}

// Routes returns the fully assembled handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/login/get_challenge", s.handleGetChallenge)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/session/check", s.requireAuth(s.handleSessionCheck))
	mux.HandleFunc("/api/configs", s.requireAuth(s.handleConfigs))
	mux.HandleFunc("/api/share/create", s.requireAuth(s.handleShareCreate))
	mux.HandleFunc("/api/share/list", s.requireAuth(s.handleShareList))
	mux.HandleFunc("/api/share/revoke", s.requireAuth(s.handleShareRevoke))
	mux.HandleFunc("/api/request_config_ticket", s.requireAuth(s.handleRequestConfigTicket))
	mux.HandleFunc("/api/get_temp_config/", s.handleGetTempConfig)
	mux.HandleFunc("/api/initiate_password_reset", s.requireAuth(s.requireAdmin(s.handleInitiatePasswordReset)))
	mux.HandleFunc("/api/perform_password_reset", s.handlePerformPasswordReset)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
