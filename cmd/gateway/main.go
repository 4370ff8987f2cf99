// Gray Logic Gateway - edge gateway
//
// The gateway authenticates every non-public request with the shared token
// signing key and the revocation cache, then forwards it to the backend
// service that owns the path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/gateway"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/redis"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Gateway", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, "graylogic-gateway", version)

	policy, err := auth.ParseRevocationPolicy(cfg.Security.Revocation.FailurePolicy)
	if err != nil {
		return fmt.Errorf("revocation policy: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.Security.JWT.Secret,
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithAccessTTL(cfg.Security.JWT.AccessTTL()),
		auth.WithRefreshTTL(cfg.Security.JWT.RefreshTTL()),
	)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	rc, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("creating redis client: %w", err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	if pingErr := rc.HealthCheck(ctx); pingErr != nil {
		// Each request applies the policy until the pool reconnects.
		log.Warn("redis unavailable at startup", "policy", policy, "error", pingErr)
	}

	srv, err := gateway.New(gateway.Deps{
		Config:  cfg.Gateway,
		Logger:  log,
		Tokens:  tokens,
		Revoker: auth.NewRevocationCache(rc),
		Policy:  policy,
		Metrics: access.NewMetrics("graylogic_gateway"),
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	log.Info("gateway ready", "routes", len(cfg.Gateway.Routes), "policy", policy)
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
