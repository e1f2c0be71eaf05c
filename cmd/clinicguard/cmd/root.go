package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	devLogs    bool
)

var rootCmd = &cobra.Command{
	Use:   "clinicguard",
	Short: "Access-control gateway for multi-tenant clinical APIs",
	Long: `clinicguard validates bearer tokens and sessions, applies rate limits and
evaluates role, assignment and consent rules in front of clinical services.

Secrets are read from the environment (CLINICGUARD_*), optionally loaded
from an env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "engine configuration file (YAML)")
	pf.StringVar(&envFile, "env-file", ".env", "env file with CLINICGUARD_* secrets; missing file is ignored")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "json", "log format: json or console")
	pf.BoolVar(&devLogs, "dev", false, "development logging")

	rootCmd.AddCommand(serveCmd, tokenCmd, configCmd)
}

// loadEnvFile loads path without overriding variables already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
