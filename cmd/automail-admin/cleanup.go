package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sixtypay/automail/internal/audit"
	"github.com/sixtypay/automail/internal/config"
	"github.com/sixtypay/automail/internal/session"
	"github.com/sixtypay/automail/internal/store"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up expired sessions and old dispatch records",
	RunE:  runCleanup,
}

var cleanupAuditDays int

func init() {
	cleanupCmd.Flags().IntVar(&cleanupAuditDays, "audit-days", 180, "Delete dispatch records older than N days")
	cleanupCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/automail/admin.yaml", "Path to configuration file")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	database, err := store.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewStore(database, cfg.Auth.SessionTTL, logger)

	deleted, err := sessions.DeleteExpired()
	if err != nil {
		return fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	fmt.Printf("Expired sessions deleted: %d\n", deleted)

	auditLog, err := audit.Open(cfg.Database.AuditPath)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	cutoff := time.Now().AddDate(0, 0, -cleanupAuditDays)
	pruned, err := auditLog.Prune(cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune dispatch records: %w", err)
	}
	fmt.Printf("Dispatch records older than %d days deleted: %d\n", cleanupAuditDays, pruned)

	fmt.Println("Cleanup completed")
	return nil
}
