package installer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/gitrepo"
	"github.com/oshokin/carpi-provision/internal/layout"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/pydeps"
	"github.com/oshokin/carpi-provision/internal/systemd"
)

// errRemoteRequired is returned when neither a settings file nor a remote URL is available.
var errRemoteRequired = errors.New("no settings file found and no remote URL provided")

// Options are inputs accepted by the installer entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// RemoteURL overrides (or, on first install, provides) the git remote.
	RemoteURL string
	// Branch overrides the tracked branch.
	Branch string
}

// LayoutManager creates the installation layout.
type LayoutManager interface {
	Ensure(ctx context.Context) (*layout.Layout, error)
}

// Repository is the subset of the repository tracker the installer needs.
type Repository interface {
	CurrentCommit() (gitrepo.CommitHash, error)
}

// CloneFunc ensures a working copy exists, cloning when absent.
type CloneFunc func(ctx context.Context, dir, remoteURL, branch string) (Repository, error)

// DependencySynchronizer installs the application's runtime dependencies.
type DependencySynchronizer interface {
	Sync(ctx context.Context, l *layout.Layout) error
}

// Dependencies are the collaborators the install pipeline drives.
// They are injectable so the pipeline is testable without host privilege.
type Dependencies struct {
	// Layout creates the root, account and directory convention.
	Layout LayoutManager
	// Clone ensures the working copy.
	Clone CloneFunc
	// Deps synchronizes the isolated runtime.
	Deps DependencySynchronizer
	// Units drives the host service manager.
	Units systemd.Manager
}

// Run executes the installer lifecycle and is the public entry point for the CLI.
// The whole pipeline is idempotent: re-invoking after a partial failure
// resumes safely without duplicating side effects.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "carpi-installer")

	cfg, err := resolveConfig(ctx, opts)
	if err != nil {
		return err
	}

	if err = run(ctx, cfg, newDependencies(cfg)); err != nil {
		logger.ErrorKV(ctx, "Install failed", "error", err)
		return err
	}

	logger.Info(ctx, "Install completed")

	return nil
}

// run drives the install pipeline: layout, clone, dependencies, units, start.
// The first fatal error aborts the run, leaving a state safe to retry from scratch.
func run(ctx context.Context, cfg *config.Config, d *Dependencies) error {
	logger.InfoKV(ctx, "Ensuring installation layout",
		"root", cfg.InstallRoot, "account", cfg.ServiceUser)

	l, err := d.Layout.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("ensure layout: %w", err)
	}

	logger.InfoKV(ctx, "Ensuring repository clone",
		"remote", cfg.RemoteURL, "branch", cfg.Branch)

	repo, err := d.Clone(ctx, l.AppDir, cfg.RemoteURL, cfg.Branch)
	if err != nil {
		return fmt.Errorf("ensure clone: %w", err)
	}

	if err = l.Owner.ChownTree(l.AppDir); err != nil {
		return fmt.Errorf("hand working copy to %s: %w", l.Owner.Username, err)
	}

	logger.Info(ctx, "Synchronizing runtime dependencies")

	if err = d.Deps.Sync(ctx, l); err != nil {
		return fmt.Errorf("sync dependencies: %w", err)
	}

	logger.Info(ctx, "Synchronizing service units")

	if err = d.Units.SyncUnits(ctx, cfg.UnitsSourceDir()); err != nil {
		return fmt.Errorf("sync units: %w", err)
	}

	// Enabling may fail when units were already enabled by a prior cycle;
	// that is not worth failing a fresh install over.
	if err = d.Units.EnableUnits(ctx, []string{cfg.ServiceUnit, cfg.UpdateTimerUnit}); err != nil {
		logger.WarnKV(ctx, "Enabling units failed", "error", err)
	}

	logger.InfoKV(ctx, "Starting managed service", "unit", cfg.ServiceUnit)

	if err = d.Units.Start(ctx, cfg.ServiceUnit); err != nil {
		return fmt.Errorf("start %s: %w", cfg.ServiceUnit, err)
	}

	if commit, commitErr := repo.CurrentCommit(); commitErr == nil {
		logger.InfoKV(ctx, "Installed", "commit", string(commit))
	}

	return nil
}

// resolveConfig loads existing settings or creates them from the provided
// remote, then persists the effective configuration for the timer-driven updater.
func resolveConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigFilename
	}

	cfg, err := config.Load(path)

	switch {
	case err == nil:
		// Existing settings; apply explicit overrides.
	case errors.Is(err, os.ErrNotExist) && opts.RemoteURL != "":
		cfg = &config.Config{}
	case errors.Is(err, os.ErrNotExist):
		return nil, errRemoteRequired
	default:
		return nil, err
	}

	if opts.RemoteURL != "" {
		cfg.RemoteURL = opts.RemoteURL
	}

	if opts.Branch != "" {
		cfg.Branch = opts.Branch
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	if err = config.Save(path, cfg); err != nil {
		return nil, fmt.Errorf("persist settings: %w", err)
	}

	logger.InfoKV(ctx, "Settings persisted", "path", path)

	return cfg, nil
}

// newDependencies wires the real collaborators for the CLI.
func newDependencies(cfg *config.Config) *Dependencies {
	runner := execx.NewShellRunner()

	return &Dependencies{
		Layout: layout.NewManager(cfg, runner),
		Clone: func(ctx context.Context, dir, remoteURL, branch string) (Repository, error) {
			return gitrepo.EnsureCloned(ctx, dir, remoteURL, branch)
		},
		Deps:  pydeps.NewSynchronizer(cfg, runner),
		Units: systemd.NewClient(runner, cfg.SystemdUnitDir),
	}
}
