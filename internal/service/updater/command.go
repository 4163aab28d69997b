package updater

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/gitrepo"
	"github.com/oshokin/carpi-provision/internal/layout"
	"github.com/oshokin/carpi-provision/internal/logger"
	"github.com/oshokin/carpi-provision/internal/pydeps"
	"github.com/oshokin/carpi-provision/internal/systemd"
)

var errUpdateAlreadyRunning = errors.New("an update cycle is already running")

// Outcome classifies a finished update cycle.
type Outcome string

const (
	// OutcomeNoOp means the deployment already matched the remote tip and
	// nothing was touched.
	OutcomeNoOp Outcome = "no-op"
	// OutcomeUpdated means the working copy advanced and the managed service
	// was restarted.
	OutcomeUpdated Outcome = "updated"
	// OutcomeFailed means the cycle aborted; the running service was left alone.
	OutcomeFailed Outcome = "failed"
)

// Cycle summarizes a single update run.
type Cycle struct {
	// Before is the local commit when the cycle started.
	Before gitrepo.CommitHash
	// After is the local commit when the cycle finished.
	After gitrepo.CommitHash
	// Outcome classifies the run.
	Outcome Outcome
}

// Options are inputs accepted by the updater entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
}

// LayoutManager re-verifies the installation layout.
type LayoutManager interface {
	Ensure(ctx context.Context) (*layout.Layout, error)
}

// Repository is the subset of the repository tracker the updater drives.
type Repository interface {
	CurrentCommit() (gitrepo.CommitHash, error)
	FetchRemote(ctx context.Context) (gitrepo.RemoteState, error)
	FastForwardPull(ctx context.Context) (gitrepo.CommitHash, error)
}

// OpenFunc opens the existing working copy. An absent or foreign repository
// must fail; the updater never clones.
type OpenFunc func(dir, remoteURL, branch string) (Repository, error)

// DependencySynchronizer installs the application's runtime dependencies.
type DependencySynchronizer interface {
	Sync(ctx context.Context, l *layout.Layout) error
}

// Dependencies are the collaborators the update cycle drives.
type Dependencies struct {
	// Layout re-verifies the directory convention.
	Layout LayoutManager
	// Open opens the working copy.
	Open OpenFunc
	// Deps synchronizes the isolated runtime.
	Deps DependencySynchronizer
	// Units drives the host service manager.
	Units systemd.Manager
	// SelfUpdate installs new provisioner binaries from the working copy.
	SelfUpdate func(ctx context.Context, cfg *config.Config) error
	// AlreadyRunning reports whether another update cycle holds the marker.
	AlreadyRunning func(ctx context.Context, markerPath string) bool
}

// Run executes one update cycle and is the public entry point for the CLI.
// It is what the timer unit invokes on every tick.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "carpi-updater")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	cycle, err := run(ctx, cfg, newDependencies(cfg))
	if err != nil {
		logger.ErrorKV(ctx, "Update cycle failed",
			"outcome", cycle.Outcome, "commit", string(cycle.Before), "error", err)

		return err
	}

	logger.InfoKV(ctx, "Update cycle finished",
		"outcome", cycle.Outcome, "before", string(cycle.Before), "after", string(cycle.After))

	return nil
}

// run drives one update cycle: fetch, compare, fast-forward, synchronize,
// restart. Every failure before the restart leaves the running service
// untouched, so a blocked update never takes down the deployment. The
// returned Cycle is always populated.
func run(ctx context.Context, cfg *config.Config, d *Dependencies) (*Cycle, error) {
	cycle := &Cycle{Outcome: OutcomeFailed}

	markerPath := cfg.MarkerPath()
	if d.AlreadyRunning(ctx, markerPath) {
		return cycle, errUpdateAlreadyRunning
	}

	if err := createMarker(markerPath); err != nil {
		return cycle, err
	}

	defer removeMarker(markerPath)

	l, err := d.Layout.Ensure(ctx)
	if err != nil {
		return cycle, fmt.Errorf("verify layout: %w", err)
	}

	repo, err := d.Open(cfg.AppDir(), cfg.RemoteURL, cfg.Branch)
	if err != nil {
		return cycle, fmt.Errorf("open working copy: %w", err)
	}

	if cycle.Before, err = repo.CurrentCommit(); err != nil {
		return cycle, err
	}

	state, err := repo.FetchRemote(ctx)
	if err != nil {
		return cycle, fmt.Errorf("fetch remote: %w", err)
	}

	if state.Diverged {
		return cycle, fmt.Errorf("refusing to update %s: %w", cfg.Branch, gitrepo.ErrNonFastForward)
	}

	if state.Ahead == 0 {
		cycle.After = cycle.Before
		cycle.Outcome = OutcomeNoOp

		logger.InfoKV(ctx, "Already at remote tip", "commit", string(cycle.Before))

		return cycle, nil
	}

	logger.InfoKV(ctx, "Remote is ahead, updating",
		"ahead", state.Ahead, "commit", string(cycle.Before))

	if cycle.After, err = repo.FastForwardPull(ctx); err != nil {
		return cycle, fmt.Errorf("advance working copy: %w", err)
	}

	if err = l.Owner.ChownTree(cfg.AppDir()); err != nil {
		return cycle, fmt.Errorf("hand working copy to %s: %w", l.Owner.Username, err)
	}

	if err = d.Deps.Sync(ctx, l); err != nil {
		return cycle, fmt.Errorf("sync dependencies: %w", err)
	}

	// Unit definitions and provisioner binaries are refreshed best-effort:
	// the pulled code plus installed dependencies are already consistent, and
	// the managed service must still be restarted onto them.
	if err = d.Units.SyncUnits(ctx, cfg.UnitsSourceDir()); err != nil {
		logger.WarnKV(ctx, "Unit synchronization failed", "error", err)
	} else if err = d.Units.EnableUnits(ctx, []string{cfg.ServiceUnit, cfg.UpdateTimerUnit}); err != nil {
		logger.WarnKV(ctx, "Enabling units failed", "error", err)
	}

	if err = d.SelfUpdate(ctx, cfg); err != nil {
		logger.WarnKV(ctx, "Provisioner self-update failed", "error", err)
	}

	if err = d.Units.Restart(ctx, cfg.ServiceUnit); err != nil {
		return cycle, fmt.Errorf("restart %s: %w", cfg.ServiceUnit, err)
	}

	cycle.Outcome = OutcomeUpdated

	return cycle, nil
}

// newDependencies wires the real collaborators for the CLI.
func newDependencies(cfg *config.Config) *Dependencies {
	runner := execx.NewShellRunner()

	return &Dependencies{
		Layout: layout.NewManager(cfg, runner),
		Open: func(dir, remoteURL, branch string) (Repository, error) {
			return gitrepo.Open(dir, remoteURL, branch)
		},
		Deps:           pydeps.NewSynchronizer(cfg, runner),
		Units:          systemd.NewClient(runner, cfg.SystemdUnitDir),
		SelfUpdate:     applySelfUpdate,
		AlreadyRunning: isUpdateRunningNow,
	}
}
