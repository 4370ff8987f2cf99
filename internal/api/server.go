package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a dependency whose health is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Service  *auth.Service
	Users    auth.UserRepository
	Catalog  auth.CatalogRepository
	Resolver *auth.Resolver
	Tokens   *auth.TokenService
	Revoker  auth.RevocationCache // may be nil
	Policy   auth.RevocationPolicy

	AuditRepo audit.Repository
	Audit     *audit.Recorder
	Metrics   *access.Metrics

	// Checks are reported by /health by name. Optional dependencies (MQTT,
	// InfluxDB) degrade the status instead of failing it.
	Checks   map[string]HealthChecker
	Optional map[string]HealthChecker

	Version string
}

// Server is the HTTP API of the identity service.
//
// It is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	service  *auth.Service
	users    auth.UserRepository
	catalog  auth.CatalogRepository
	resolver *auth.Resolver

	auditRepo audit.Repository
	audit     *audit.Recorder
	metrics   *access.Metrics

	authn     *access.Authenticator
	authz     *access.Authorizer
	loginRate *access.RateLimiter

	checks   map[string]HealthChecker
	optional map[string]HealthChecker

	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil || deps.Users == nil || deps.Catalog == nil || deps.Resolver == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("auth service, repositories, resolver and token service are required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = access.NewMetrics("graylogic_identity")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		service:   deps.Service,
		users:     deps.Users,
		catalog:   deps.Catalog,
		resolver:  deps.Resolver,
		auditRepo: deps.AuditRepo,
		audit:     deps.Audit,
		metrics:   metrics,
		checks:    deps.Checks,
		optional:  deps.Optional,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.authn = access.NewAuthenticator(deps.Tokens, deps.Revoker, deps.Policy, deps.Logger, metrics)
	s.authz = access.NewAuthorizer(deps.Resolver, deps.Logger, metrics)
	if rl := deps.Security.RateLimit; rl.Enabled {
		trusted, err := rl.TrustedProxyPrefixes()
		if err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		s.loginRate = access.NewRateLimiter(rl.RequestsPerMinute, rl.Burst, trusted...)
	}

	return s, nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.GetReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.GetWriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.GetIdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
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

// HealthCheck verifies the API server is running.
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
