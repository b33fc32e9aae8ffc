package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"residencial.org/internal/app"
	"residencial.org/internal/config"
	"residencial.org/internal/obs"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Version == "" {
		cfg.Version = version
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, "residencial-api")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.SetBuildInfo(cfg.Version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.API.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go purgeSessions(ctx, a, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting residencial-api",
			zap.String("version", cfg.Version),
			zap.String("addr", srv.Addr),
			zap.String("driver", string(a.DB.Driver())),
			zap.Bool("login_throttle", a.Redis != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// purgeSessions drops expired sessions once an hour until ctx ends.
func purgeSessions(ctx context.Context, a *app.App, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Auth.PurgeExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}
