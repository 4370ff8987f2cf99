package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func TestConnect(t *testing.T) {
	mr := startMiniredis(t)

	c, err := Connect(context.Background(), config.RedisConfig{
		URL:       "redis://" + mr.Addr() + "/0",
		KeyPrefix: "graylogic:",
		PoolSize:  4,
		Timeout:   100,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	if got := c.Key("revoked:abc"); got != "graylogic:revoked:abc" {
		t.Errorf("Key() = %q", got)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := c.Redis().Set(context.Background(), c.Key("ping-key"), "1", 0).Err(); err != nil {
		t.Fatalf("SET error = %v", err)
	}
	if !mr.Exists("graylogic:ping-key") {
		t.Error("expected namespaced key in miniredis")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Connect() error = %v, want ErrInvalidURL", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	mr := startMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), config.RedisConfig{URL: "redis://" + addr})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck_AfterServerStops(t *testing.T) {
	mr := startMiniredis(t)
	c, err := Connect(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	mr.Close()
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() expected error after server stopped")
	}
}

func TestNew_ReconnectsWhenServerReturns(t *testing.T) {
	mr := startMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	c, err := New(config.RedisConfig{URL: "redis://" + addr, Timeout: 100})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // Test cleanup

	if err := c.HealthCheck(context.Background()); err == nil {
		t.Fatal("HealthCheck() expected error while server is down")
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after restart error = %v", err)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New(config.RedisConfig{URL: "http://not-redis"}); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("New() error = %v, want ErrInvalidURL", err)
	}
}
