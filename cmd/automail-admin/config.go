package main

import (
	"fmt"

	"github.com/sixtypay/automail/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/automail/admin.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Audit log path: %s\n", cfg.Database.AuditPath)
	fmt.Printf("  Upstream API: %s\n", cfg.Upstream.BaseURL)
	fmt.Printf("  Session TTL: %s\n", cfg.Auth.SessionTTL)
	fmt.Printf("  Crawler polling: %v\n", cfg.Crawler.Enabled)
	fmt.Printf("  Metrics: %v\n", cfg.Metrics.Enabled)

	return nil
}
