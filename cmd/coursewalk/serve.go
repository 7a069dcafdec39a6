package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/coursewalk/internal/config"
	"github.com/kuitang/coursewalk/internal/courseware"
	"github.com/kuitang/coursewalk/internal/obs"
	"github.com/kuitang/coursewalk/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(overrides)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := obs.Pkg("serve")

	app, err := courseware.New(ctx, courseware.Config{
		AppPath:        cfg.AppPath,
		DataDir:        cfg.DataDir,
		DBKey:          cfg.DBKey,
		ProvisionDelay: cfg.ProvisionDelay,
		RateLimit: ratelimit.Config{
			RPS:             cfg.AuthRPS,
			Burst:           cfg.AuthBurst,
			CleanupInterval: ratelimit.DefaultConfig.CleanupInterval,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("courseware_close_failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "app_path", cfg.AppPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server_stopped")
	return nil
}
