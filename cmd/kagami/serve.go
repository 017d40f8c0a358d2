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

	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/edge"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func addListenFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "override server.host")
	cmd.Flags().Int("port", 0, "override server.port")
}

func applyListenFlags(cmd *cobra.Command, cfg *config.ServerConfig) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the full HTTP API",
		Long:  "Serve search, embedding, info and admin endpoints with OpenAPI docs, CORS, rate limiting and Prometheus metrics.",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addListenFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyListenFlags(cmd, &cfg.Server)

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", path), zap.Bool("debug", cfg.Debug))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	c := wire(cfg, logger, m)
	defer c.Close()
	c.warmUp(ctx)

	srv, err := server.New(cfg.Server, server.Deps{
		Service:  c.service,
		Reloader: c.loader,
		Metrics:  m,
		Logger:   logger,
		Version:  version,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newServeMinimalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-minimal",
		Short: "Run the minimal edge API",
		Long:  "Serve POST / embedding search and GET /health with permissive CORS, for serverless and edge hosts.",
		Args:  cobra.NoArgs,
		RunE:  runServeMinimal,
	}
	addListenFlags(cmd)
	return cmd
}

func runServeMinimal(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyListenFlags(cmd, &cfg.Server)

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := wire(cfg, logger, nil)
	defer c.Close()
	c.warmUp(ctx)

	handler := edge.New(c.service, cfg.Edge.DefaultTopK, cfg.Server.MaxBodyBytes, logger)
	return listenAndServe(ctx, cfg.Server, handler, logger)
}

// listenAndServe runs handler until ctx is cancelled, then shuts down gracefully.
func listenAndServe(ctx context.Context, cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("edge server listening", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return <-errCh
}
