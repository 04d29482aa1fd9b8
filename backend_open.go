package goGuard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/backend/gotrue"
	"github.com/MrEthical07/goGuard/backend/memory"
	"github.com/MrEthical07/goGuard/backend/postgres"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/password"
)

// OpenBackend selects the hosted identity provider with Postgres rows when
// cfg.Hosted() holds, and the in-memory stand-in with the mock accounts
// otherwise. Both satisfy the same contracts.
func OpenBackend(ctx context.Context, cfg BackendConfig, logger *slog.Logger) (backend.Backend, error) {
	opened, err := openBackend(ctx, cfg, password.DefaultConfig(), logger)
	if err != nil {
		return backend.Backend{}, err
	}
	return opened.Backend, nil
}

// openedBackend carries the Postgres attempt store next to the backend so
// the limiter can share the database when Redis is absent.
type openedBackend struct {
	backend.Backend
	rateStore rate.Store
}

func openBackend(ctx context.Context, cfg BackendConfig, hashing password.Config, logger *slog.Logger) (openedBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Backend.Timeout
	}

	if !cfg.Hosted() {
		b, _, _, err := memory.Open(memory.Config{
			Password:      hashing,
			SigningKey:    cloneBytes(cfg.SigningKey),
			SiteURL:       cfg.SiteURL,
			SeedMockUsers: true,
			Logger:        logger,
		})
		if err != nil {
			return openedBackend{}, fmt.Errorf("open memory backend: %w", err)
		}
		logger.Info("backend_selected", slog.String("kind", "memory"))
		return openedBackend{Backend: b}, nil
	}

	creds, err := gotrue.New(gotrue.Config{
		URL:     cfg.URL,
		AnonKey: cfg.AnonKey,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return openedBackend{}, err
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
			return openedBackend{}, err
		}
	}

	store, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return openedBackend{}, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return openedBackend{}, fmt.Errorf("%w: postgres ping: %v", backend.ErrUnavailable, err)
	}

	logger.Info("backend_selected", slog.String("kind", "hosted"))
	return openedBackend{
		Backend: backend.Backend{
			Credentials: creds,
			Rows:        store,
			Close:       store.Close,
		},
		rateStore: store.RateStore(),
	}, nil
}

func closeBackend(b backend.Backend) error {
	if b.Close == nil {
		return nil
	}
	if err := b.Close(); err != nil {
		return errors.Join(errors.New("goguard: close backend"), err)
	}
	return nil
}
