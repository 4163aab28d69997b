package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/service/installer"
	"github.com/oshokin/carpi-provision/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// remoteURL of the git repository to provision from.
	remoteURL string
	// branch of the remote to track.
	branch string
	// logLevel of the console output.
	logLevel string

	// rootCmd represents the base command for provisioning the appliance.
	rootCmd = &cobra.Command{
		Use:   "carpi-installer",
		Short: "Provision the data-logging appliance from a git remote",
		Long: `Provisions the appliance from a blank device to a running deployment:
creates the service account and directory layout, clones the application
repository, installs its dependencies into an isolated runtime, installs the
service units and starts the managed service.

Every step is idempotent: re-running after a partial failure resumes safely.
The effective settings are persisted so the timer-driven updater can reuse them.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			options := &installer.Options{
				ConfigPath: configPath,
				RemoteURL:  remoteURL,
				Branch:     branch,
			}

			return installer.Run(ctx, options)
		},
	}
)

// Execute runs the carpi-installer CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVarP(&remoteURL, "remote", "r", "", "git remote URL to provision from")
	rootCmd.Flags().StringVarP(&branch, "branch", "b", "", "branch of the remote to track")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "console log level (debug, info, warn, error)")
}
