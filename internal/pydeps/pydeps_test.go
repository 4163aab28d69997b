package pydeps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/identity"
	"github.com/oshokin/carpi-provision/internal/layout"
)

// testLayout builds an on-disk layout with a working copy containing a manifest.
func testLayout(t *testing.T) (*config.Config, *layout.Layout) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		RemoteURL:   "https://example.com/carpi.git",
		InstallRoot: filepath.Join(dir, "opt", "carpi"),
		LogDir:      filepath.Join(dir, "log"),
	}
	require.NoError(t, config.Validate(cfg))

	l := &layout.Layout{
		Root:    cfg.InstallRoot,
		AppDir:  cfg.AppDir(),
		VenvDir: cfg.VenvDir(),
		DataDir: cfg.DataDir(),
		LogDir:  cfg.LogDir,
		BinDir:  cfg.BinDir(),
		Owner:   identity.Current(),
	}

	require.NoError(t, os.MkdirAll(l.AppDir, 0o755))
	require.NoError(t, os.MkdirAll(l.VenvDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.RequirementsPath(), []byte("pyyaml==6.0\n"), 0o644))

	return cfg, l
}

// TestSyncCreatesRuntimeAndInstalls verifies venv creation precedes pip and
// that the pip invocation upgrades and bypasses the cache.
func TestSyncCreatesRuntimeAndInstalls(t *testing.T) {
	t.Parallel()

	cfg, l := testLayout(t)
	runner := &execx.FakeRunner{}
	s := NewSynchronizer(cfg, runner)

	require.NoError(t, s.Sync(context.Background(), l))
	require.Len(t, runner.Calls, 2)

	venvCall := runner.Calls[0]
	require.Equal(t, cfg.PythonInterpreter, venvCall.Name)
	require.Equal(t, []string{"-m", "venv", l.VenvDir}, venvCall.Args)
	require.Equal(t, l.Owner, venvCall.As)

	pipCall := runner.Calls[1]
	require.Equal(t, filepath.Join(l.VenvDir, "bin", "pip"), pipCall.Name)
	require.Contains(t, pipCall.Args, "--upgrade")
	require.Contains(t, pipCall.Args, "--no-cache-dir")
	require.Contains(t, pipCall.Args, cfg.RequirementsPath())
	require.Equal(t, l.Owner, pipCall.As)
}

// TestSyncSkipsExistingRuntime ensures an existing venv is reused.
func TestSyncSkipsExistingRuntime(t *testing.T) {
	t.Parallel()

	cfg, l := testLayout(t)
	require.NoError(t, os.MkdirAll(filepath.Join(l.VenvDir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.VenvDir, "bin", "python"), []byte("#!"), 0o755))

	runner := &execx.FakeRunner{}
	s := NewSynchronizer(cfg, runner)

	require.NoError(t, s.Sync(context.Background(), l))
	require.Len(t, runner.Calls, 1)
	require.Contains(t, runner.Calls[0].Name, "pip")
}

// TestSyncMissingManifest surfaces the install sentinel.
func TestSyncMissingManifest(t *testing.T) {
	t.Parallel()

	cfg, l := testLayout(t)
	require.NoError(t, os.Remove(cfg.RequirementsPath()))

	s := NewSynchronizer(cfg, runnerWithRuntime(t, l))

	err := s.Sync(context.Background(), l)
	require.ErrorIs(t, err, ErrInstall)
}

// TestSyncPipFailure surfaces the install sentinel on resolution failures.
func TestSyncPipFailure(t *testing.T) {
	t.Parallel()

	cfg, l := testLayout(t)

	runner := &execx.FakeRunner{
		Handler: func(name string, _ ...string) ([]byte, error) {
			if filepath.Base(name) == "pip" {
				return nil, errors.New("resolution impossible")
			}

			return nil, nil
		},
	}

	s := NewSynchronizer(cfg, runner)

	err := s.Sync(context.Background(), l)
	require.ErrorIs(t, err, ErrInstall)
}

// runnerWithRuntime fakes an already-created venv so only pip would run.
func runnerWithRuntime(t *testing.T, l *layout.Layout) *execx.FakeRunner {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(l.VenvDir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.VenvDir, "bin", "python"), []byte("#!"), 0o755))

	return &execx.FakeRunner{}
}
