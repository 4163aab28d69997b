package pydeps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/layout"
	"github.com/oshokin/carpi-provision/internal/logger"
)

// ErrInstall is returned on any package resolution, network or interpreter
// failure. It is surfaced, never retried internally; retry is the next
// scheduled update cycle.
var ErrInstall = errors.New("dependency installation failed")

// Synchronizer installs the managed application's declared runtime
// dependencies into the isolated environment.
type Synchronizer struct {
	runner       execx.Runner
	python       string
	requirements string
}

// NewSynchronizer creates a dependency synchronizer for the given configuration.
func NewSynchronizer(cfg *config.Config, runner execx.Runner) *Synchronizer {
	return &Synchronizer{
		runner:       runner,
		python:       cfg.PythonInterpreter,
		requirements: cfg.RequirementsPath(),
	}
}

// Sync reads the dependency manifest from the current working-copy contents
// and installs into the isolated runtime, upgrading already-installed
// packages and bypassing the local package cache. Re-running with no
// manifest changes only re-verifies. Everything executes as the service
// account.
func (s *Synchronizer) Sync(ctx context.Context, l *layout.Layout) error {
	if err := s.ensureRuntime(ctx, l); err != nil {
		return err
	}

	if _, err := os.Stat(s.requirements); err != nil {
		return fmt.Errorf("%w: manifest %s: %s", ErrInstall, s.requirements, err)
	}

	logger.InfoKV(ctx, "Synchronizing dependencies", "manifest", s.requirements)

	pip := filepath.Join(l.VenvDir, "bin", "pip")

	_, err := s.runner.Run(ctx, l.Owner, pip,
		"install",
		"--upgrade",
		"--no-cache-dir",
		"--requirement", s.requirements)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInstall, err)
	}

	return nil
}

// ensureRuntime creates the isolated environment when it does not exist yet.
func (s *Synchronizer) ensureRuntime(ctx context.Context, l *layout.Layout) error {
	python := filepath.Join(l.VenvDir, "bin", "python")
	if _, err := os.Stat(python); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrInstall, err)
	}

	logger.InfoKV(ctx, "Creating isolated runtime", "dir", l.VenvDir)

	if _, err := s.runner.Run(ctx, l.Owner, s.python, "-m", "venv", l.VenvDir); err != nil {
		return fmt.Errorf("%w: %s", ErrInstall, err)
	}

	return nil
}
