package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"instasave/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage instasave configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (a .env file is read too)
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write a configuration file with every option set to its default.

The file is created as 'instasave.yaml' in the current directory unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Show the configuration after merging all sources. Secrets are masked.`,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = "instasave.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created: %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Set server.secret_key to a random value")
	fmt.Fprintln(out, "2. Add credentials with 'instasave auth set-session' or 'instasave auth set-password'")
	fmt.Fprintln(out, "3. Check them with 'instasave auth test'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	display := *cfg
	display.Instagram.Password = mask(display.Instagram.Password)
	display.Instagram.SessionID = mask(display.Instagram.SessionID)
	display.Server.SecretKey = mask(display.Server.SecretKey)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Server.SecretKey == config.DefaultConfig().Server.SecretKey {
		fmt.Fprintln(out, "Warning: server.secret_key is the default value")
	}
	if cfg.Instagram.Username == "" && cfg.Instagram.SessionID == "" {
		if _, err := os.Stat(cfg.Instagram.SessionIDPath); err != nil {
			fmt.Fprintln(out, "Warning: no credentials configured")
		}
	}

	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "  Database:             %s\n", cfg.Storage.DatabasePath)
	fmt.Fprintf(out, "  Media root:           %s\n", cfg.Storage.MediaRoot)
	fmt.Fprintf(out, "  Concurrent downloads: %d\n", cfg.Download.ConcurrentDownloads)
	fmt.Fprintf(out, "  Rate limit:           %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Fprintf(out, "  Log level:            %s\n", cfg.Logging.Level)
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}
