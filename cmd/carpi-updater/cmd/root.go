package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/service/updater"
	"github.com/oshokin/carpi-provision/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel of the console output.
	logLevel string

	// rootCmd represents the base command for running one update cycle.
	rootCmd = &cobra.Command{
		Use:   "carpi-updater",
		Short: "Run one update cycle against the tracked git remote",
		Long: `Runs a single update cycle: fetches the tracked remote, fast-forwards the
working copy when the remote is strictly ahead, resynchronizes dependencies
and service units, and restarts the managed service exactly once per applied
update. Diverged history aborts the cycle without touching the running
service.

This is the command the update timer unit invokes on every tick.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &updater.Options{
				ConfigPath: configPath,
			}

			return updater.Run(ctx, options)
		},
	}
)

// Execute runs the carpi-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "console log level (debug, info, warn, error)")
}
