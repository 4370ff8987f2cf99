// Gray Logic Identity - identity and access control service
//
// This is the main entry point for the identity service. It issues and
// verifies tokens, stores users, roles and permissions, and answers
// authorisation checks for the platform's services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-identity/migrations"

	"github.com/nerrad567/gray-logic-identity/internal/access"
	"github.com/nerrad567/gray-logic-identity/internal/api"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/redis"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	sweepInterval     = 15 * time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Identity",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, "graylogic-identity", version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	policy, err := auth.ParseRevocationPolicy(cfg.Security.Revocation.FailurePolicy)
	if err != nil {
		return fmt.Errorf("revocation policy: %w", err)
	}

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Revocation cache
	rc, err := redis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("creating redis client: %w", err)
	}
	defer func() {
		log.Info("closing redis")
		if closeErr := rc.Close(); closeErr != nil {
			log.Error("error closing redis", "error", closeErr)
		}
	}()
	if pingErr := rc.HealthCheck(ctx); pingErr != nil {
		// Token checks apply the policy and /health reports unhealthy until
		// the pool reconnects.
		log.Warn("redis unavailable at startup", "policy", policy, "error", pingErr)
	} else {
		log.Info("redis connected", "policy", policy)
	}

	// Optional event sinks
	optional := map[string]api.HealthChecker{}
	var sinks auth.EventSinks

	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		sinks = append(sinks, auth.NewMQTTEventSink(mqttClient, mqttClient.QoS(), log))
		optional["mqtt"] = mqttClient
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })

		sinks = append(sinks, auth.NewInfluxEventSink(influxClient))
		optional["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Domain
	users := auth.NewUserRepository(db.DB)
	catalog := auth.NewCatalogRepository(db.DB)
	sessions := auth.NewSessionStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log)
	hasher := auth.DefaultPasswordHasher()

	tokens, err := auth.NewTokenService(cfg.Security.JWT.Secret,
		auth.WithIssuer(cfg.Security.JWT.Issuer),
		auth.WithAccessTTL(cfg.Security.JWT.AccessTTL()),
		auth.WithRefreshTTL(cfg.Security.JWT.RefreshTTL()),
	)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	revoker := auth.NewRevocationCache(rc)

	if err := bootstrap(ctx, cfg, users, catalog, hasher, recorder, log); err != nil {
		return err
	}

	service := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Catalog:  catalog,
		Sessions: sessions,
		Tokens:   tokens,
		Revoker:  revoker,
		Hasher:   hasher,
		Events:   sinks,
		Audit:    recorder,
		Logger:   log,
		Config: auth.ServiceConfig{
			RotateRefreshTokens: cfg.Security.JWT.RotateRefreshTokens,
			RegistrationEnabled: cfg.Security.Registration.Enabled,
			DefaultRole:         cfg.Security.Registration.DefaultRole,
		},
	})

	sweeper := auth.NewSweeper(sessions, sweepInterval, func(n int64, err error) {
		if err != nil {
			log.Warn("session sweep failed", "error", err)
			return
		}
		if n > 0 {
			log.Info("expired sessions removed", "count", n)
		}
	})
	go sweeper.Run(ctx)

	// HTTP API
	srv, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		Logger:    log,
		Service:   service,
		Users:     users,
		Catalog:   catalog,
		Resolver:  auth.NewResolver(users),
		Tokens:    tokens,
		Revoker:   revoker,
		Policy:    policy,
		AuditRepo: auditRepo,
		Audit:     recorder,
		Metrics:   access.NewMetrics("graylogic_identity"),
		Checks:    map[string]api.HealthChecker{"database": db, "redis": rc},
		Optional:  optional,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, InfluxDB, MQTT,
	// Redis, database.
	log.Info("Gray Logic Identity stopped")
	return nil
}

// bootstrap seeds the system catalog and, on an empty store, the first
// administrator. The generated password goes to stdout only.
func bootstrap(ctx context.Context, cfg *config.Config, users auth.UserRepository, catalog auth.CatalogRepository,
	hasher *auth.PasswordHasher, recorder *audit.Recorder, log *logging.Logger) error {
	if err := auth.SeedCatalog(ctx, catalog, log); err != nil {
		return fmt.Errorf("seeding catalog: %w", err)
	}

	email := cfg.Security.Bootstrap.AdminEmail
	password, err := auth.SeedAdmin(ctx, users, catalog, hasher, recorder, email, log)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if password != "" {
		fmt.Fprintf(os.Stdout, "\n  Initial administrator created\n    email:    %s\n    password: %s\n  Change this password after the first login.\n\n",
			email, password)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
