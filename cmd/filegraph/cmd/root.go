// Package cmd provides the CLI commands for filegraph.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/filegraph/filegraph/internal/config"
	"github.com/filegraph/filegraph/internal/logging"
)

var (
	flagConfigDir string
	flagLogLevel  string
	flagLogFile   string

	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filegraph",
		Short: "Index filesystem trees into a graph and search them",
		Long: `filegraph watches directory trees, indexes their textual content
into a property-graph store (chunked and optionally embedded), and
serves hybrid semantic/keyword retrieval over the result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "Directory holding filegraph.yaml and .env")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Override log file path")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the CLI. Errors are printed here because cobra's own
// reporting is silenced on the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads the layered configuration for the chosen directory.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigDir)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFile != "" {
		cfg.Logging.File = flagLogFile
	}
	return cfg, nil
}

func setupLogging(*cobra.Command, []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.Logging.File
	logCfg.WriteToStderr = cfg.Logging.Stderr

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}
