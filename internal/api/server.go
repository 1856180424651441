package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/kost-rfid-core/internal/audit"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/database"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/logging"
	"github.com/nerrad567/kost-rfid-core/internal/realtime"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by components reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Service  *realtime.Service

	// DB is optional; when set its pool stats appear in /metrics.
	DB *database.DB

	// Audit is optional; when set operator actions are recorded and
	// GET /audit is served from it.
	Audit audit.Repository

	// Checks are reported by name on /health. The broker is always
	// included.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for the Kost RFID core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	service     *realtime.Service
	db          *database.DB
	checks      map[string]HealthChecker
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	limiter     *rateLimiter
	router      http.Handler
	removeEvent func()
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The router and WebSocket hub are built immediately and service events
// are forwarded to the hub; the listener is not opened until Start().
//
// Parameters:
//   - deps: Required dependencies (logger, realtime service, JWT secret)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("realtime service is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	checks := map[string]HealthChecker{"mqtt": deps.Service.Client()}
	for name, c := range deps.Checks {
		if c != nil {
			checks[name] = c
		}
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		service:   deps.Service,
		db:        deps.DB,
		checks:    checks,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Security.RateLimit.Enabled && deps.Security.RateLimit.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}
	if deps.Audit != nil {
		s.auditRepo = deps.Audit
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	s.hub = NewHub(deps.WS, deps.Logger, deps.Service.Client())
	s.removeEvent = deps.Service.OnEvent(s.hub.BroadcastEvent)
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.sweepLimitersLoop(srvCtx)
	if s.auditRepo != nil {
		go s.drainAuditLog(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It stops event forwarding, then waits up to 10 seconds for in-flight
// requests to complete before forcefully closing remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.removeEvent != nil {
		s.removeEvent()
		s.removeEvent = nil
	}

	// Cancel background goroutines (hub, limiter sweep)
	if s.cancel != nil {
		s.cancel()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
