// Command goguard-server serves the goGuard engine over HTTP and runs the
// periodic maintenance jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/httpapi"
	"github.com/MrEthical07/goGuard/internal/jobs"
	promexport "github.com/MrEthical07/goGuard/metrics/export/prometheus"
)

var stderr = os.Stderr

func main() {
	if err := run(); err != nil {
		slog.Error("goguard-server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.logger()
	slog.SetDefault(logger)

	engine, err := goGuard.New().
		WithConfig(cfg.engineConfig()).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("goguard: engine close failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := httpapi.Options{
		Logger:            logger,
		AdminToken:        cfg.AdminToken,
		RequestsPerSecond: cfg.RequestsPerSec,
		Burst:             cfg.RequestBurst,
	}
	if cfg.Metrics {
		opts.Metrics = promexport.NewExporter(engine).Handler()
	}
	api := httpapi.New(engine, opts)
	go api.Run(ctx)

	scheduler, err := jobs.New(engine, cfg.jobsConfig(), logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("goguard: jobs did not stop in time", slog.Any("error", err))
	}
	return srv.Shutdown(shutdownCtx)
}
