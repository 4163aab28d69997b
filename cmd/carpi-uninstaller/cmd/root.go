package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/service/uninstaller"
	"github.com/oshokin/carpi-provision/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// purgeData also removes persisted data and logs.
	purgeData bool
	// logLevel of the console output.
	logLevel string

	// rootCmd represents the base command for removing the deployment.
	rootCmd = &cobra.Command{
		Use:   "carpi-uninstaller",
		Short: "Remove the deployment from the appliance",
		Long: `Stops and disables the managed units, deletes their unit files, removes the
service account and the installation tree. Persisted data and logs are kept
unless --purge-data is given.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &uninstaller.Options{
				ConfigPath: configPath,
				PurgeData:  purgeData,
			}

			return uninstaller.Run(ctx, options)
		},
	}
)

// Execute runs the carpi-uninstaller CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVarP(&purgeData, "purge-data", "p", false, "also remove persisted data and logs")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "console log level (debug, info, warn, error)")
}
