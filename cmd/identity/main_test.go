package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func useConfig(t *testing.T, path string) {
	t.Helper()
	originalEnv := os.Getenv("GRAYLOGIC_CONFIG")
	t.Cleanup(func() { os.Setenv("GRAYLOGIC_CONFIG", originalEnv) })
	os.Setenv("GRAYLOGIC_CONFIG", path)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	useConfig(t, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingRevocationPolicy verifies the failure policy has no default.
func TestRun_MissingRevocationPolicy(t *testing.T) {
	useConfig(t, writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
security:
  jwt:
    secret: "test-secret-that-is-at-least-32-characters"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without security.revocation.failure_policy")
	}
	if !strings.Contains(err.Error(), "failure_policy") {
		t.Errorf("run() error = %v, want failure_policy mentioned", err)
	}
}

// TestRun_StartsWhileRedisUnavailable verifies an unreachable revocation
// cache does not stop startup; requests apply the policy instead.
func TestRun_StartsWhileRedisUnavailable(t *testing.T) {
	useConfig(t, writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
redis:
  url: "redis://127.0.0.1:1/0"
  timeout: 100
api:
  host: "127.0.0.1"
  port: 18091
logging:
  level: error
security:
  jwt:
    secret: "test-secret-that-is-at-least-32-characters"
  revocation:
    failure_policy: fail_closed
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_InvalidRedisURL verifies a malformed redis URL is fatal.
func TestRun_InvalidRedisURL(t *testing.T) {
	useConfig(t, writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
redis:
  url: "http://not-redis"
security:
  jwt:
    secret: "test-secret-that-is-at-least-32-characters"
  revocation:
    failure_policy: fail_closed
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with an invalid redis URL")
	}
}

// TestRun_SuccessfulStartupAndShutdown starts the service against a
// temporary database and an in-memory redis, then cancels it.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()

	useConfig(t, writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
redis:
  url: "redis://`+mr.Addr()+`/0"
api:
  host: "127.0.0.1"
  port: 18090
logging:
  level: warn
  format: text
security:
  jwt:
    secret: "test-secret-that-is-at-least-32-characters"
  revocation:
    failure_policy: fail_closed
  bootstrap:
    admin_email: "admin@example.com"
`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("GRAYLOGIC_CONFIG")
	defer os.Setenv("GRAYLOGIC_CONFIG", originalEnv)

	os.Unsetenv("GRAYLOGIC_CONFIG")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	useConfig(t, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
