package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/gitrepo"
	"github.com/oshokin/carpi-provision/internal/identity"
	"github.com/oshokin/carpi-provision/internal/layout"
)

type fakeLayout struct {
	layout *layout.Layout
}

func (f *fakeLayout) Ensure(context.Context) (*layout.Layout, error) {
	return f.layout, nil
}

// fakeRepo scripts the remote state of one cycle.
type fakeRepo struct {
	commit   gitrepo.CommitHash
	state    gitrepo.RemoteState
	fetchErr error
	pullTo   gitrepo.CommitHash
	pullErr  error
	pulls    int
}

func (f *fakeRepo) CurrentCommit() (gitrepo.CommitHash, error) {
	return f.commit, nil
}

func (f *fakeRepo) FetchRemote(context.Context) (gitrepo.RemoteState, error) {
	return f.state, f.fetchErr
}

func (f *fakeRepo) FastForwardPull(context.Context) (gitrepo.CommitHash, error) {
	f.pulls++

	if f.pullErr != nil {
		return "", f.pullErr
	}

	f.commit = f.pullTo

	return f.pullTo, nil
}

type fakeDeps struct {
	err   error
	calls int
}

func (f *fakeDeps) Sync(context.Context, *layout.Layout) error {
	f.calls++
	return f.err
}

// fakeUnits records the order of service-manager operations.
type fakeUnits struct {
	steps      []string
	syncErr    error
	restartErr error
}

func (f *fakeUnits) SyncUnits(_ context.Context, _ string) error {
	f.steps = append(f.steps, "sync")
	return f.syncErr
}

func (f *fakeUnits) EnableUnits(_ context.Context, _ []string) error {
	f.steps = append(f.steps, "enable")
	return nil
}

func (f *fakeUnits) DisableUnits(_ context.Context, _ []string) error {
	f.steps = append(f.steps, "disable")
	return nil
}

func (f *fakeUnits) Start(_ context.Context, _ string) error {
	f.steps = append(f.steps, "start")
	return nil
}

func (f *fakeUnits) Stop(_ context.Context, _ string) error {
	f.steps = append(f.steps, "stop")
	return nil
}

func (f *fakeUnits) Restart(_ context.Context, unit string) error {
	f.steps = append(f.steps, "restart "+unit)
	return f.restartErr
}

func (f *fakeUnits) IsActive(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (f *fakeUnits) RemoveUnits(_ context.Context, _ []string) error {
	f.steps = append(f.steps, "remove")
	return nil
}

func (f *fakeUnits) restarts() int {
	count := 0

	for _, step := range f.steps {
		if step == "restart carpi.service" {
			count++
		}
	}

	return count
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		InstallRoot: filepath.Join(t.TempDir(), "carpi"),
		RemoteURL:   "https://example.test/carpi.git",
	}
	require.NoError(t, config.Validate(cfg))
	require.NoError(t, os.MkdirAll(cfg.InstallRoot, 0o755))

	return cfg
}

func testDependencies(cfg *config.Config, repo *fakeRepo) (*Dependencies, *fakeDeps, *fakeUnits) {
	owner := identity.Current()
	fd := &fakeDeps{}
	fu := &fakeUnits{}

	d := &Dependencies{
		Layout: &fakeLayout{layout: &layout.Layout{
			Root:    cfg.InstallRoot,
			AppDir:  cfg.AppDir(),
			VenvDir: cfg.VenvDir(),
			DataDir: cfg.DataDir(),
			LogDir:  cfg.LogDir,
			BinDir:  cfg.BinDir(),
			Owner:   owner,
		}},
		Open: func(_, _, _ string) (Repository, error) {
			return repo, nil
		},
		Deps:  fd,
		Units: fu,
		SelfUpdate: func(context.Context, *config.Config) error {
			return nil
		},
		AlreadyRunning: func(context.Context, string) bool {
			return false
		},
	}

	return d, fd, fu
}

// TestRunNoOp leaves everything untouched when the remote has nothing new.
func TestRunNoOp(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{commit: "aaa111"}
	d, fd, fu := testDependencies(cfg, repo)

	cycle, err := run(context.Background(), cfg, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoOp, cycle.Outcome)
	require.Equal(t, cycle.Before, cycle.After)

	require.Zero(t, repo.pulls)
	require.Zero(t, fd.calls)
	require.Empty(t, fu.steps)

	// The marker never outlives the cycle.
	_, err = os.Stat(cfg.MarkerPath())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunUpdated advances to the remote tip and restarts exactly once.
func TestRunUpdated(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{
		commit: "aaa111",
		state:  gitrepo.RemoteState{Ahead: 3},
		pullTo: "bbb222",
	}
	d, fd, fu := testDependencies(cfg, repo)

	cycle, err := run(context.Background(), cfg, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, cycle.Outcome)
	require.Equal(t, gitrepo.CommitHash("aaa111"), cycle.Before)
	require.Equal(t, gitrepo.CommitHash("bbb222"), cycle.After)

	require.Equal(t, 1, repo.pulls)
	require.Equal(t, 1, fd.calls)
	require.Equal(t, []string{"sync", "enable", "restart carpi.service"}, fu.steps)
	require.Equal(t, 1, fu.restarts())

	_, err = os.Stat(cfg.MarkerPath())
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunDiverged aborts without pulling or restarting.
func TestRunDiverged(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{
		commit: "aaa111",
		state:  gitrepo.RemoteState{Ahead: 0, Diverged: true},
	}
	d, fd, fu := testDependencies(cfg, repo)

	cycle, err := run(context.Background(), cfg, d)
	require.ErrorIs(t, err, gitrepo.ErrNonFastForward)
	require.Equal(t, OutcomeFailed, cycle.Outcome)

	require.Zero(t, repo.pulls)
	require.Zero(t, fd.calls)
	require.Empty(t, fu.steps)
}

// TestRunDependencyFailureNoRestart keeps the old service running when the
// new dependencies cannot be installed.
func TestRunDependencyFailureNoRestart(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{
		commit: "aaa111",
		state:  gitrepo.RemoteState{Ahead: 1},
		pullTo: "bbb222",
	}
	d, fd, fu := testDependencies(cfg, repo)
	fd.err = errors.New("resolver offline")

	cycle, err := run(context.Background(), cfg, d)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, cycle.Outcome)
	require.Zero(t, fu.restarts())
}

// TestRunUnitSyncFailureTolerated still restarts onto the pulled code.
func TestRunUnitSyncFailureTolerated(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{
		commit: "aaa111",
		state:  gitrepo.RemoteState{Ahead: 1},
		pullTo: "bbb222",
	}
	d, _, fu := testDependencies(cfg, repo)
	fu.syncErr = errors.New("daemon-reload failed")

	cycle, err := run(context.Background(), cfg, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, cycle.Outcome)
	require.Equal(t, 1, fu.restarts())
}

// TestRunRestartFailure reports a failed cycle when the final restart fails.
func TestRunRestartFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{
		commit: "aaa111",
		state:  gitrepo.RemoteState{Ahead: 1},
		pullTo: "bbb222",
	}
	d, _, fu := testDependencies(cfg, repo)
	fu.restartErr = errors.New("unit failed to start")

	cycle, err := run(context.Background(), cfg, d)
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, cycle.Outcome)
}

// TestRunOverlapGuard refuses to run while another cycle holds the marker.
func TestRunOverlapGuard(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	repo := &fakeRepo{commit: "aaa111"}
	d, _, fu := testDependencies(cfg, repo)
	d.AlreadyRunning = func(context.Context, string) bool {
		return true
	}

	cycle, err := run(context.Background(), cfg, d)
	require.ErrorIs(t, err, errUpdateAlreadyRunning)
	require.Equal(t, OutcomeFailed, cycle.Outcome)
	require.Empty(t, fu.steps)
}

// TestStaleMarkerRecovered removes a marker orphaned by a crash: no live
// updater process exists in the test environment, so the marker is stale.
func TestStaleMarkerRecovered(t *testing.T) {
	t.Parallel()

	markerPath := filepath.Join(t.TempDir(), "carpi-update-marker.bin")
	require.NoError(t, createMarker(markerPath))

	require.False(t, isUpdateRunningNow(context.Background(), markerPath))

	_, err := os.Stat(markerPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestMarkerAbsent reports no running cycle when there is no marker.
func TestMarkerAbsent(t *testing.T) {
	t.Parallel()

	markerPath := filepath.Join(t.TempDir(), "carpi-update-marker.bin")
	require.False(t, isUpdateRunningNow(context.Background(), markerPath))
}
