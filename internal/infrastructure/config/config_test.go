package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	cfg.Security.Revocation.FailurePolicy = RevocationFailClosed
	return cfg
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
service:
  id: "test-identity"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
redis:
  url: "redis://127.0.0.1:6379/1"
api:
  port: 8090
gateway:
  port: 8080
  routes:
    - path_prefix: "/api/v1/sensors"
      upstream: "http://sensors:8081"
      roles: ["operator", "admin"]
    - path_prefix: "/api/v1/auth/login"
      upstream: "http://identity:8090"
      public: true
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
    access_token_ttl: 10
    refresh_token_ttl: 1440
    rotate_refresh_tokens: false
  revocation:
    failure_policy: fail_open
`
	cfg, err := Load(writeConfig(t, t.TempDir(), content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-identity" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-identity")
	}
	if cfg.Redis.URL != "redis://127.0.0.1:6379/1" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if len(cfg.Gateway.Routes) != 2 {
		t.Fatalf("Gateway.Routes = %d, want 2", len(cfg.Gateway.Routes))
	}
	if got := cfg.Gateway.Routes[0].Roles; len(got) != 2 || got[0] != "operator" {
		t.Errorf("Routes[0].Roles = %v", got)
	}
	if !cfg.Gateway.Routes[1].Public {
		t.Error("Routes[1].Public = false, want true")
	}
	if cfg.Security.JWT.RotateRefreshTokens {
		t.Error("RotateRefreshTokens = true, want false from file")
	}
	if cfg.Security.JWT.AccessTTL() != 10*time.Minute {
		t.Errorf("AccessTTL() = %v, want 10m", cfg.Security.JWT.AccessTTL())
	}
	if cfg.Security.Revocation.FailurePolicy != RevocationFailOpen {
		t.Errorf("FailurePolicy = %q, want %q", cfg.Security.Revocation.FailurePolicy, RevocationFailOpen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, t.TempDir(), "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_DotEnvSuppliesSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
service:
  id: "dotenv-test"
`)
	dotenv := "GRAYLOGIC_JWT_SECRET=dotenv-secret-key-at-least-32-chars\nGRAYLOGIC_REVOCATION_FAILURE_POLICY=fail_closed\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0600); err != nil {
		t.Fatalf("writing .env: %v", err)
	}

	// godotenv writes into the process environment; register cleanup via t.Setenv.
	t.Setenv("GRAYLOGIC_JWT_SECRET", "")
	t.Setenv("GRAYLOGIC_REVOCATION_FAILURE_POLICY", "")
	os.Unsetenv("GRAYLOGIC_JWT_SECRET")
	os.Unsetenv("GRAYLOGIC_REVOCATION_FAILURE_POLICY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Security.JWT.Secret != "dotenv-secret-key-at-least-32-chars" {
		t.Errorf("JWT.Secret = %q, want value from .env", cfg.Security.JWT.Secret)
	}
	if cfg.Security.Revocation.FailurePolicy != RevocationFailClosed {
		t.Errorf("FailurePolicy = %q, want fail_closed", cfg.Security.Revocation.FailurePolicy)
	}
}

func TestLoad_RevocationPolicyRequired(t *testing.T) {
	content := `
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	t.Setenv("GRAYLOGIC_REVOCATION_FAILURE_POLICY", "")

	_, err := Load(writeConfig(t, t.TempDir(), content))
	if err == nil {
		t.Fatal("Load() expected error when failure_policy is unset")
	}
	if !strings.Contains(err.Error(), "failure_policy is required") {
		t.Errorf("error = %v, want failure_policy message", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing service ID", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing redis url", mutate: func(c *Config) { c.Redis.URL = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid api port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid gateway port high", mutate: func(c *Config) { c.Gateway.Port = 70000 }, wantErr: true},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "refresh shorter than access", mutate: func(c *Config) { c.Security.JWT.RefreshTokenTTL = 5 }, wantErr: true},
		{name: "unknown failure policy", mutate: func(c *Config) { c.Security.Revocation.FailurePolicy = "maybe" }, wantErr: true},
		{name: "fail open accepted", mutate: func(c *Config) { c.Security.Revocation.FailurePolicy = RevocationFailOpen }},
		{
			name: "registration without default role",
			mutate: func(c *Config) {
				c.Security.Registration.Enabled = true
				c.Security.Registration.DefaultRole = ""
			},
			wantErr: true,
		},
		{
			name: "relative upstream",
			mutate: func(c *Config) {
				c.Gateway.Routes = []RouteConfig{{PathPrefix: "/api", Upstream: "sensors:8081"}}
			},
			wantErr: true,
		},
		{
			name: "public route with roles",
			mutate: func(c *Config) {
				c.Gateway.Routes = []RouteConfig{{PathPrefix: "/api", Upstream: "http://a:1", Public: true, Roles: []string{"admin"}}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeoutHelpers(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := timeouts.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := timeouts.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}

	redis := RedisConfig{Timeout: 250}
	if got := redis.CacheTimeout(); got != 250*time.Millisecond {
		t.Errorf("CacheTimeout() = %v, want 250ms", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("GRAYLOGIC_REDIS_PASSWORD", "cache-pass")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_GATEWAY_HOST", "192.168.1.2")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_JWT_SECRET", "jwt-secret")
	t.Setenv("GRAYLOGIC_REVOCATION_FAILURE_POLICY", "fail_open")
	t.Setenv("GRAYLOGIC_BOOTSTRAP_ADMIN_EMAIL", "admin@example.com")

	applyEnvOverrides(cfg)

	checks := []struct {
		field, got, want string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Redis.URL", cfg.Redis.URL, "redis://cache:6379/2"},
		{"Redis.Password", cfg.Redis.Password, "cache-pass"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"Gateway.Host", cfg.Gateway.Host, "192.168.1.2"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Security.Revocation.FailurePolicy", cfg.Security.Revocation.FailurePolicy, "fail_open"},
		{"Security.Bootstrap.AdminEmail", cfg.Security.Bootstrap.AdminEmail, "admin@example.com"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("defaultConfig Gateway.Port = %d, want 8080", cfg.Gateway.Port)
	}
	if cfg.Security.Revocation.FailurePolicy != "" {
		t.Error("defaultConfig must not choose a revocation failure policy")
	}
	if !cfg.Security.JWT.RotateRefreshTokens {
		t.Error("defaultConfig should rotate refresh tokens")
	}
}

func TestRateLimitConfig_TrustedProxyPrefixes(t *testing.T) {
	rl := RateLimitConfig{TrustedProxies: []string{"10.0.0.7", "172.16.0.0/12", " ::1 "}}
	prefixes, err := rl.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes() error = %v", err)
	}
	want := []string{"10.0.0.7/32", "172.16.0.0/12", "::1/128"}
	if len(prefixes) != len(want) {
		t.Fatalf("prefixes = %v, want %v", prefixes, want)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %s, want %s", i, p, want[i])
		}
	}

	cfg := validConfig()
	cfg.Security.RateLimit.TrustedProxies = []string{"gateway.local"}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "trusted_proxies") {
		t.Errorf("Validate() error = %v, want trusted_proxies error", err)
	}
}
