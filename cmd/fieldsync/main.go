// Command fieldsync runs the local-first sync layer of a field data
// collection client and offers maintenance commands for its local state.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/erauner12/fieldsync/internal/config"
	"github.com/erauner12/fieldsync/internal/logging"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
	pretty     bool
	devMode    bool

	// populated by PersistentPreRunE
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "fieldsync",
	Short:         "Local-first sync client for field data collection",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Flags win over file and environment
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("dev") {
			cfg.DevMode = devMode
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logCloser = logging.Setup(logging.Options{
			Service: "fieldsync",
			Level:   cfg.LogLevel,
			Pretty:  pretty,
			File:    cfg.LogFile,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (JSON, YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human readable console logs")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Authenticate with X-Debug-Sub instead of a token")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
