package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/httpapi"
	"github.com/fedsearch/fedsearch-go/internal/instance"
	"github.com/fedsearch/fedsearch-go/internal/logs"
	"github.com/fedsearch/fedsearch-go/internal/observability"
	"github.com/fedsearch/fedsearch-go/internal/storage"
	"github.com/fedsearch/fedsearch-go/internal/tlslocal"
)

const (
	shutdownTimeout       = 10 * time.Second
	metricsSampleInterval = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Long: `Start the REST API that manages remote instances.

Examples:
  fedsearch serve
  fedsearch serve --listen 0.0.0.0:8080 --api-key s3cret
  fedsearch serve --log-level debug --log-to-file
  fedsearch serve --tls`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	serveCmd.Flags().Bool("tls", false, "Serve HTTPS with a certificate issued by a local CA")
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting fedsearch",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.String("reserved_local_name", cfg.ReservedLocalName),
		zap.Bool("api_key_set", cfg.APIKey != ""))

	obs, err := observability.NewManager(logger.Sugar(), cfg.Observability, version)
	if err != nil {
		return fmt.Errorf("failed to setup observability: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Close(ctx)
	}()

	db, err := storage.NewBoltDB(cfg.DataDir, logger.Sugar())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database opened", zap.String("path", db.Path()))
	obs.RegisterHealthChecker(observability.NewDatabaseHealthChecker("bbolt", db))

	var metrics instance.Metrics
	if m := obs.Metrics(); m != nil {
		metrics = m
	}
	svc := newService(cfg, db, logger, metrics)

	httpLogger, err := logs.CreateHTTPLogger(cfg.Logging)
	if err != nil {
		return err
	}
	api := httpapi.NewServer(svc, httpapi.Options{
		APIKey:     cfg.APIKey,
		MaxTimeout: cfg.MaxTimeout,
		HTTPLogger: httpLogger,
	}, logger.Sugar(), obs)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	scheme := "http"
	if cfg.TLS.Enabled {
		tlsCfg, err := tlslocal.EnsureServerTLSConfig(tlslocal.Options{
			Dir:   cfg.CertsDirPath(),
			Hosts: cfg.TLS.Hosts,
		})
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to prepare TLS: %w", err)
		}
		ln = tls.NewListener(ln, tlsCfg)
		scheme = "https"
		logger.Info("TLS enabled",
			zap.String("ca_certificate", filepath.Join(cfg.CertsDirPath(), tlslocal.CACertFile)))
	}

	var serving atomic.Bool
	obs.Health().SetReadyFunc(serving.Load)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sampleMetrics(ctx, obs, db, logger)

	srv := &http.Server{
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	serving.Store(true)
	logger.Info("REST API listening", zap.String("url", scheme+"://"+ln.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	serving.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// sampleMetrics keeps the sampled gauges current until ctx is done
func sampleMetrics(ctx context.Context, obs *observability.Manager, db *storage.BoltDB, logger *zap.Logger) {
	if obs.Metrics() == nil {
		return
	}

	update := func() {
		count, err := db.CountInstances()
		if err != nil {
			logger.Debug("Failed to count instances", zap.Error(err))
			return
		}
		obs.UpdateMetrics(count)
	}

	update()
	ticker := time.NewTicker(metricsSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
