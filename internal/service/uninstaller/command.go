package uninstaller

import (
	"context"
	"fmt"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/layout"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/systemd"
)

// Options are inputs accepted by the uninstaller entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// PurgeData also removes the persisted data and log directories.
	PurgeData bool
}

// LayoutManager removes the installation layout and its account.
type LayoutManager interface {
	Remove(ctx context.Context, purgeData bool) error
	RemoveAccount(ctx context.Context) error
}

// Dependencies are the collaborators the uninstall drives.
type Dependencies struct {
	// Layout removes the directory convention and the service account.
	Layout LayoutManager
	// Units drives the host service manager.
	Units systemd.Manager
}

// Run removes the deployment and is the public entry point for the CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "carpi-uninstaller")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if err = run(ctx, cfg, opts.PurgeData, newDependencies(cfg)); err != nil {
		logger.ErrorKV(ctx, "Uninstall failed", "error", err)
		return err
	}

	logger.Info(ctx, "Uninstall completed")

	return nil
}

// run tears the deployment down in reverse install order: stop and disable
// units, remove their files, remove the account, remove the tree. Stop and
// disable failures are tolerated so a half-removed deployment can still be
// cleaned up.
func run(ctx context.Context, cfg *config.Config, purgeData bool, d *Dependencies) error {
	logger.InfoKV(ctx, "Stopping managed units", "units", cfg.ManagedUnits())

	for _, unit := range cfg.ManagedUnits() {
		if err := d.Units.Stop(ctx, unit); err != nil {
			logger.WarnKV(ctx, "Stopping unit failed", "unit", unit, "error", err)
		}
	}

	if err := d.Units.DisableUnits(ctx, cfg.ManagedUnits()); err != nil {
		logger.WarnKV(ctx, "Disabling units failed", "error", err)
	}

	if err := d.Units.RemoveUnits(ctx, cfg.ManagedUnits()); err != nil {
		return fmt.Errorf("remove units: %w", err)
	}

	if err := d.Layout.RemoveAccount(ctx); err != nil {
		return fmt.Errorf("remove account: %w", err)
	}

	if err := d.Layout.Remove(ctx, purgeData); err != nil {
		return fmt.Errorf("remove layout: %w", err)
	}

	return nil
}

// newDependencies wires the real collaborators for the CLI.
func newDependencies(cfg *config.Config) *Dependencies {
	runner := execx.NewShellRunner()

	return &Dependencies{
		Layout: layout.NewManager(cfg, runner),
		Units:  systemd.NewClient(runner, cfg.SystemdUnitDir),
	}
}
