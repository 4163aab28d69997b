package layout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/identity"
	"github.com/oshokin/carpi-provision/internal/logger"
)

// ErrInsufficientPrivilege is returned when account or ownership work is
// required but the process lacks host privilege for it.
var ErrInsufficientPrivilege = errors.New("insufficient privilege")

const (
	// rootDirPermissions applies to directories the service account only reads.
	rootDirPermissions = 0o755
	// ownedDirPermissions applies to directories the service account writes.
	ownedDirPermissions = 0o750
)

// Layout describes the on-disk installation: fixed root, isolated runtime,
// persisted data and logs, all owned by the dedicated service account.
type Layout struct {
	// Root is the installation root.
	Root string
	// AppDir is the git working copy.
	AppDir string
	// VenvDir is the isolated runtime environment.
	VenvDir string
	// DataDir holds persisted application data.
	DataDir string
	// LogDir holds application logs.
	LogDir string
	// BinDir holds the installed provisioner binaries.
	BinDir string
	// Owner is the service account owning the writable parts of the tree.
	Owner *identity.Identity
}

// Manager creates and removes the installation layout.
type Manager struct {
	cfg    *config.Config
	runner execx.Runner

	// geteuid is swapped in tests to simulate privilege levels.
	geteuid func() int
}

// NewManager creates a layout manager for the given configuration.
func NewManager(cfg *config.Config, runner execx.Runner) *Manager {
	return &Manager{
		cfg:     cfg,
		runner:  runner,
		geteuid: os.Geteuid,
	}
}

// Ensure creates the service account and directory convention if absent.
// It is idempotent: when everything already exists with correct ownership it
// only re-verifies. Existing data is never deleted.
func (m *Manager) Ensure(ctx context.Context) (*Layout, error) {
	owner, err := m.ensureAccount(ctx)
	if err != nil {
		return nil, err
	}

	l := &Layout{
		Root:    m.cfg.InstallRoot,
		AppDir:  m.cfg.AppDir(),
		VenvDir: m.cfg.VenvDir(),
		DataDir: m.cfg.DataDir(),
		LogDir:  m.cfg.LogDir,
		BinDir:  m.cfg.BinDir(),
		Owner:   owner,
	}

	// Root and bin stay root-owned; the account only needs to traverse them.
	for _, dir := range []string{l.Root, l.BinDir} {
		if err = os.MkdirAll(dir, rootDirPermissions); err != nil {
			return nil, wrapPermission(fmt.Errorf("create %s: %w", dir, err))
		}
	}

	// The runtime, data and logs are the directories the account may write to.
	for _, dir := range []string{l.VenvDir, l.DataDir, l.LogDir} {
		if err = os.MkdirAll(dir, ownedDirPermissions); err != nil {
			return nil, wrapPermission(fmt.Errorf("create %s: %w", dir, err))
		}

		if err = owner.Chown(dir); err != nil {
			return nil, wrapPermission(err)
		}
	}

	logger.InfoKV(ctx, "Installation layout verified",
		"root", l.Root, "owner", owner.Username)

	return l, nil
}

// ensureAccount looks up the dedicated service account and creates it as a
// system account without login shell when missing.
func (m *Manager) ensureAccount(ctx context.Context) (*identity.Identity, error) {
	owner, err := identity.Lookup(m.cfg.ServiceUser)
	if err == nil {
		return owner, nil
	}

	var unknown user.UnknownUserError
	if !errors.As(err, &unknown) {
		return nil, err
	}

	if m.geteuid() != 0 {
		return nil, fmt.Errorf("create account %s: %w", m.cfg.ServiceUser, ErrInsufficientPrivilege)
	}

	logger.InfoKV(ctx, "Creating service account", "account", m.cfg.ServiceUser)

	_, err = m.runner.Run(ctx, nil, "useradd",
		"--system",
		"--no-create-home",
		"--home-dir", m.cfg.InstallRoot,
		"--shell", "/usr/sbin/nologin",
		m.cfg.ServiceUser)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", m.cfg.ServiceUser, err)
	}

	return identity.Lookup(m.cfg.ServiceUser)
}

// Remove deletes the installation root. Persisted data and log directories
// survive unless purgeData is set; removal of either is an explicit,
// separate decision of the operator.
func (m *Manager) Remove(ctx context.Context, purgeData bool) error {
	if purgeData {
		if err := os.RemoveAll(m.cfg.InstallRoot); err != nil {
			return wrapPermission(fmt.Errorf("remove %s: %w", m.cfg.InstallRoot, err))
		}

		if err := os.RemoveAll(m.cfg.LogDir); err != nil {
			return wrapPermission(fmt.Errorf("remove %s: %w", m.cfg.LogDir, err))
		}

		logger.Info(ctx, "Installation root, data and logs removed")

		return nil
	}

	entries, err := os.ReadDir(m.cfg.InstallRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read %s: %w", m.cfg.InstallRoot, err)
	}

	dataName := filepath.Base(m.cfg.DataDir())
	for _, entry := range entries {
		if entry.Name() == dataName {
			continue
		}

		path := filepath.Join(m.cfg.InstallRoot, entry.Name())
		if err = os.RemoveAll(path); err != nil {
			return wrapPermission(fmt.Errorf("remove %s: %w", path, err))
		}
	}

	logger.InfoKV(ctx, "Installation root removed", "kept", m.cfg.DataDir())

	return nil
}

// RemoveAccount deletes the dedicated service account if it exists.
func (m *Manager) RemoveAccount(ctx context.Context) error {
	if _, err := identity.Lookup(m.cfg.ServiceUser); err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil
		}

		return err
	}

	if m.geteuid() != 0 {
		return fmt.Errorf("remove account %s: %w", m.cfg.ServiceUser, ErrInsufficientPrivilege)
	}

	logger.InfoKV(ctx, "Removing service account", "account", m.cfg.ServiceUser)

	if _, err := m.runner.Run(ctx, nil, "userdel", m.cfg.ServiceUser); err != nil {
		return fmt.Errorf("remove account %s: %w", m.cfg.ServiceUser, err)
	}

	return nil
}

// wrapPermission maps filesystem permission failures onto the privilege sentinel.
func wrapPermission(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %s", ErrInsufficientPrivilege, err)
	}

	return err
}
