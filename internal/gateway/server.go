package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies of the gateway.
type Deps struct {
	Config  config.GatewayConfig
	Logger  *logging.Logger
	Tokens  access.TokenVerifier
	Revoker auth.RevocationCache // may be nil
	Policy  auth.RevocationPolicy
	Metrics *access.Metrics
	Version string
}

// Server is the edge gateway: it authenticates requests and forwards them
// to the configured upstream services.
type Server struct {
	cfg       config.GatewayConfig
	logger    *logging.Logger
	metrics   *access.Metrics
	router    *Router
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a gateway. Routes are validated here; the server is not
// started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token verifier is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = access.NewMetrics("graylogic_gateway")
	}

	authn := access.NewAuthenticator(deps.Tokens, deps.Revoker, deps.Policy, deps.Logger, metrics)
	router, err := NewRouter(deps.Config.Routes, authn, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("building routes: %w", err)
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		metrics:   metrics,
		router:    router,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(access.CORS(s.cfg.CORS))
	r.Use(access.RequestID)
	r.Use(access.Logging(s.logger))
	r.Use(s.metrics.Instrument)
	r.Use(access.Recovery(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Handle("/*", s.router)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	access.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"routes":         len(s.router.routes),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// Start begins listening in a background goroutine.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.GetReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.GetWriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("gateway starting with TLS", "address", s.server.Addr, "routes", len(s.router.routes))
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("gateway starting", "address", s.server.Addr, "routes", len(s.router.routes))
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts the gateway down.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("gateway shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down gateway: %w", err)
	}
	return nil
}
