package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sixtypay/automail/internal/audit"
	"github.com/sixtypay/automail/internal/config"
	"github.com/sixtypay/automail/internal/crawljob"
	"github.com/sixtypay/automail/internal/metrics"
	"github.com/sixtypay/automail/internal/server"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/store"
	"github.com/sixtypay/automail/internal/upstream"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin server",
	RunE:  runServe,
}

var configFile string

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/automail/admin.yaml", "Path to configuration file")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Setup logger
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Logging.Level),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	database, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return err
	}

	// Sessions with background cleanup
	sessions := session.NewStore(database, cfg.Auth.SessionTTL, logger)
	go sessions.CleanupLoop(ctx, cfg.Auth.CleanupInterval)

	// Upstream mailing API client (service token, overridden per session)
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey)
	client.SetTimeout(cfg.Upstream.Timeout)

	// Dispatch audit log
	auditLog, err := audit.Open(cfg.Database.AuditPath)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	options := store.NewOptionsRepository(database)
	settings := store.NewSettingsRepository(database)

	// Optional crawler job poller
	var poller *crawljob.Poller
	if cfg.Crawler.Enabled {
		poller = crawljob.New(client, cfg.Crawler.PollInterval, logger)
		poller.Start()
		defer poller.Stop()
	}

	m := metrics.New()

	// Optional metrics endpoint on its own listener
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(m, cfg.Metrics.ListenAddr, logger)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	srv := server.NewServer(cfg, sessions, client, auditLog, options, settings, poller, m, version, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down...", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}

	return srv.Shutdown(shutdownCtx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
