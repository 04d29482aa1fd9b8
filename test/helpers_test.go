//go:build integration
// +build integration

package test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/password"
)

// newRedis returns a client for REDIS_ADDR when set, otherwise for a
// private miniredis. A real server is flushed before use.
func newRedis(t *testing.T) *redis.Client {
	t.Helper()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flush redis %s: %v", addr, err)
		}
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return rdb
}

// databaseURL skips the test unless GOGUARD_TEST_DATABASE_URL names a
// disposable Postgres database.
func databaseURL(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GOGUARD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GOGUARD_TEST_DATABASE_URL not set")
	}
	return dsn
}

func testConfig() goGuard.Config {
	cfg := goGuard.DefaultConfig()
	cfg.Password.Hashing = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Backend.SigningKey = []byte("integration-key-integration-key-32")
	cfg.PermissionCache.SweepInterval = 0
	cfg.LoginPatterns.Enabled = false
	return cfg
}

func newEngine(t *testing.T, rdb redis.UniversalClient, mutate func(*goGuard.Config)) *goGuard.Engine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b := goGuard.New().WithConfig(cfg).WithLogger(slog.New(slog.DiscardHandler))
	if rdb != nil {
		b.WithRedis(rdb)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}
