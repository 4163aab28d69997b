package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds provisioning parameters shared by the installer, updater and
// uninstaller binaries. It is the single source for every path and name the
// components rely on; no component reads these values from the environment.
type Config struct {
	// InstallRoot is the fixed installation root on the device.
	InstallRoot string `yaml:"install_root"`
	// ServiceUser is the dedicated non-login account owning the installation.
	ServiceUser string `yaml:"service_user"`
	// RemoteURL is the git remote the application is provisioned from.
	RemoteURL string `yaml:"remote_url"`
	// Branch is the tracked branch of the remote.
	Branch string `yaml:"branch"`
	// LogDir is the application log directory (outside the root, journald-style layout).
	LogDir string `yaml:"log_dir"`
	// PythonInterpreter is the interpreter used to create the isolated runtime.
	PythonInterpreter string `yaml:"python"`
	// UnitsSubdir is the directory inside the working copy holding systemd unit files.
	UnitsSubdir string `yaml:"units_subdir"`
	// RequirementsFile is the dependency manifest path inside the working copy.
	// Its format is opaque here; it is handed to pip as-is.
	RequirementsFile string `yaml:"requirements_file"`
	// SelfUpdateManifest is the optional provisioner release manifest inside
	// the working copy. When absent, provisioner self-update is skipped.
	SelfUpdateManifest string `yaml:"self_update_manifest"`
	// SystemdUnitDir is the host service-manager unit directory.
	SystemdUnitDir string `yaml:"systemd_unit_dir"`
	// ServiceUnit is the long-running managed application unit.
	ServiceUnit string `yaml:"service_unit"`
	// UpdateServiceUnit is the one-shot update job unit.
	UpdateServiceUnit string `yaml:"update_service_unit"`
	// UpdateTimerUnit is the interval timer bound to the update job.
	UpdateTimerUnit string `yaml:"update_timer_unit"`
}

const (
	// DefaultConfigFilename is the default location of the provisioning settings.
	DefaultConfigFilename = "/etc/carpi/provision.yaml"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	defaultInstallRoot        = "/opt/carpi"
	defaultServiceUser        = "carpi"
	defaultBranch             = "main"
	defaultLogDir             = "/var/log/carpi"
	defaultPython             = "python3"
	defaultUnitsSubdir        = "systemd"
	defaultRequirementsFile   = "requirements.txt"
	defaultSelfUpdateManifest = "tools/provision-version.yaml"
	defaultSystemdUnitDir     = "/etc/systemd/system"
	defaultServiceUnit        = "carpi.service"
	defaultUpdateServiceUnit  = "carpi-update.service"
	defaultUpdateTimerUnit    = "carpi-update.timer"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errRemoteRequired is returned when the git remote URL is missing.
	errRemoteRequired = errors.New("remote URL must be provided")
	// errRootNotAbsolute is returned when the installation root is not an absolute path.
	errRootNotAbsolute = errors.New("installation root must be an absolute path")
	// errBadUnitName is returned when a configured unit name has an unexpected suffix.
	errBadUnitName = errors.New("unit name has an unexpected suffix")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path, creating parent
// directories as needed. The installer uses it to persist the effective
// settings for later timer-driven update runs.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filepath.Clean(path)), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.RemoteURL) == "" {
		return errRemoteRequired
	}

	applyDefaults(cfg)

	if !filepath.IsAbs(cfg.InstallRoot) {
		return fmt.Errorf("%w: %s", errRootNotAbsolute, cfg.InstallRoot)
	}

	for _, unit := range []string{cfg.ServiceUnit, cfg.UpdateServiceUnit} {
		if !strings.HasSuffix(unit, ".service") {
			return fmt.Errorf("%w: %s", errBadUnitName, unit)
		}
	}

	if !strings.HasSuffix(cfg.UpdateTimerUnit, ".timer") {
		return fmt.Errorf("%w: %s", errBadUnitName, cfg.UpdateTimerUnit)
	}

	return nil
}

// applyDefaults fills zero-value fields with the appliance defaults.
func applyDefaults(cfg *Config) {
	if cfg.InstallRoot == "" {
		cfg.InstallRoot = defaultInstallRoot
	}

	if cfg.ServiceUser == "" {
		cfg.ServiceUser = defaultServiceUser
	}

	if cfg.Branch == "" {
		cfg.Branch = defaultBranch
	}

	if cfg.LogDir == "" {
		cfg.LogDir = defaultLogDir
	}

	if cfg.PythonInterpreter == "" {
		cfg.PythonInterpreter = defaultPython
	}

	if cfg.UnitsSubdir == "" {
		cfg.UnitsSubdir = defaultUnitsSubdir
	}

	if cfg.RequirementsFile == "" {
		cfg.RequirementsFile = defaultRequirementsFile
	}

	if cfg.SelfUpdateManifest == "" {
		cfg.SelfUpdateManifest = defaultSelfUpdateManifest
	}

	if cfg.SystemdUnitDir == "" {
		cfg.SystemdUnitDir = defaultSystemdUnitDir
	}

	if cfg.ServiceUnit == "" {
		cfg.ServiceUnit = defaultServiceUnit
	}

	if cfg.UpdateServiceUnit == "" {
		cfg.UpdateServiceUnit = defaultUpdateServiceUnit
	}

	if cfg.UpdateTimerUnit == "" {
		cfg.UpdateTimerUnit = defaultUpdateTimerUnit
	}
}

// AppDir returns the working copy path inside the installation root.
func (c *Config) AppDir() string {
	return filepath.Join(c.InstallRoot, "app")
}

// VenvDir returns the isolated runtime path inside the installation root.
func (c *Config) VenvDir() string {
	return filepath.Join(c.InstallRoot, "venv")
}

// DataDir returns the persisted data directory inside the installation root.
func (c *Config) DataDir() string {
	return filepath.Join(c.InstallRoot, "data")
}

// BinDir returns the directory holding the installed provisioner binaries.
func (c *Config) BinDir() string {
	return filepath.Join(c.InstallRoot, "bin")
}

// RequirementsPath returns the absolute path of the dependency manifest.
func (c *Config) RequirementsPath() string {
	return filepath.Join(c.AppDir(), c.RequirementsFile)
}

// UnitsSourceDir returns the absolute path of the unit files inside the working copy.
func (c *Config) UnitsSourceDir() string {
	return filepath.Join(c.AppDir(), c.UnitsSubdir)
}

// SelfUpdateManifestPath returns the absolute path of the provisioner release manifest.
func (c *Config) SelfUpdateManifestPath() string {
	return filepath.Join(c.AppDir(), c.SelfUpdateManifest)
}

// MarkerPath returns the path of the update run marker used to prevent
// overlapping update cycles.
func (c *Config) MarkerPath() string {
	return filepath.Join(c.InstallRoot, "carpi-update-marker.bin")
}

// ManagedUnits returns every unit name owned by this subsystem.
func (c *Config) ManagedUnits() []string {
	return []string{c.ServiceUnit, c.UpdateServiceUnit, c.UpdateTimerUnit}
}
