package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
)

/*
Server exposes the release ledger over HTTP.

Claimant endpoints:
  GET  /v1/root                       active root, leaf count and encoding versions
  GET  /v1/funds                      balance and total released
  GET  /v1/claims                     every recorded claim state
  GET  /v1/claims/{address}/{epoch}   claim state and vesting time
  GET  /v1/payouts                    payout events in apply order
  POST /v1/release/instant            {address, amount, epoch, proof}
  POST /v1/release/vested             {address, amount, epoch}

Release endpoints are rate limited per remote IP. Every ineligible release
returns 403 with the phase's single collapsed message, so a caller cannot
tell an unlisted identity from an already released one.

Operator endpoints:
  POST /v1/admin/root    AuthenticatedMessage carrying a set_root payload
  POST /v1/admin/funds   AuthenticatedMessage carrying an add_funds payload

The signer recovered from the message signature is the caller the ledger
authorizes. Each payload carries a nonce and an expiry; a nonce is accepted
once until its message expires.
*/

// MaxRequestBodyBytes bounds every request body.
const MaxRequestBodyBytes = 1 << 20

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int
	RateLimit       rate.Limit
	RateBurst       int
	AllowedOrigins  []string
	AdminMessageTTL time.Duration

	// Now overrides the clock used for admin message expiry.
	Now func() time.Time
}

// Server handles HTTP requests for the release ledger
type Server struct {
	ledger     *release.Ledger
	logger     *zap.Logger
	limiter    *ipRateLimiter
	replay     *auth.ReplayGuard
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *ServerConfig, ledger *release.Ledger, logger *zap.Logger) *Server {
	s := &Server{
		ledger:  ledger,
		logger:  logger,
		limiter: newIPRateLimiter(cfg.RateLimit, cfg.RateBurst),
		replay:  auth.NewReplayGuard(cfg.AdminMessageTTL, cfg.Now),
	}
	s.router = s.initRouter()

	corsOptions := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	}
	if len(cfg.AllowedOrigins) != 0 {
		corsOptions = append(corsOptions,
			handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
			handlers.AllowedOrigins(cfg.AllowedOrigins),
		)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlers.CORS(corsOptions...)(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) initRouter() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/root", s.handleGetRoot).Methods(http.MethodGet)
	v1.HandleFunc("/funds", s.handleGetFunds).Methods(http.MethodGet)
	v1.HandleFunc("/claims", s.handleListClaims).Methods(http.MethodGet)
	v1.HandleFunc("/claims/{address}/{epoch}", s.handleGetClaim).Methods(http.MethodGet)
	v1.HandleFunc("/payouts", s.handleGetPayouts).Methods(http.MethodGet)

	rel := v1.PathPrefix("/release").Subrouter()
	rel.Use(s.rateLimit)
	rel.HandleFunc("/instant", s.handleReleaseInstant).Methods(http.MethodPost)
	rel.HandleFunc("/vested", s.handleReleaseVested).Methods(http.MethodPost)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/root", s.handleAdminSetRoot).Methods(http.MethodPost)
	admin.HandleFunc("/funds", s.handleAdminAddFunds).Methods(http.MethodPost)

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "operator", s.ledger.Operator().Hex(), "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
