package updater

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/carpi-provision/internal/config"
	"github.com/oshokin/carpi-provision/internal/logger"

	// Ensure SHA512 is available for checksum calculation.
	_ "crypto/sha512"
)

var errHashUnavailable = errors.New("hash function unavailable")

const (
	// updaterExecutable is the process name checked when deciding whether a
	// leftover marker belongs to a live run or a crashed one.
	updaterExecutable = "carpi-updater"

	// binaryFileMode applies to provisioner binaries installed by self-update.
	binaryFileMode os.FileMode = 0o755

	// checksumFunction hashes release artifacts.
	checksumFunction crypto.Hash = crypto.SHA512
)

// releaseManifest describes a provisioner release shipped inside the working
// copy: its version and the base64-encoded checksums of the binaries under
// the manifest's bin/ directory.
type releaseManifest struct {
	// Version is the semantic version of the release.
	Version string `yaml:"version"`
	// Files maps binary names to base64-encoded checksums of their contents.
	Files map[string]string `yaml:"files"`
}

// fileChecksum returns checksum bytes for a file using checksumFunction.
func fileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	if !checksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	hasher := checksumFunction.New()
	if _, err = hasher.Write(contents); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

// isUpdateRunningNow checks presence of the run marker and recovers from
// markers orphaned by a crash or power loss: a marker with no live updater
// process behind it is removed and the cycle proceeds.
func isUpdateRunningNow(ctx context.Context, markerPath string) bool {
	_, err := os.Stat(markerPath)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.InfoKV(ctx, "Unable to read update marker", "error", err)
		return false
	}

	alive, err := anotherUpdaterAlive()
	if err != nil {
		// Cannot tell; assume the marker is honest.
		logger.WarnKV(ctx, "Unable to inspect process list", "error", err)
		return true
	}

	if alive {
		return true
	}

	logger.Info(ctx, "Update marker is orphaned, removing")

	if err = os.Remove(markerPath); err != nil {
		return true
	}

	return false
}

// anotherUpdaterAlive reports whether an updater process other than this one
// is currently running.
func anotherUpdaterAlive() (bool, error) {
	processList, err := ps.Processes()
	if err != nil {
		return false, err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == updaterExecutable {
			return true, nil
		}
	}

	return false, nil
}

// createMarker writes the run marker preventing overlapping cycles.
func createMarker(path string) error {
	marker, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create update marker: %w", err)
	}

	if err = marker.Close(); err != nil {
		return fmt.Errorf("close update marker: %w", err)
	}

	return nil
}

// removeMarker deletes the run marker, tolerating its absence.
func removeMarker(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}

// applySelfUpdate installs the provisioner binaries published in the
// working-copy release manifest into the installation bin directory,
// verifying each against its checksum. Binaries already matching the
// manifest are left untouched. A working copy without a manifest means
// the release ships no provisioner update; that is not an error.
func applySelfUpdate(ctx context.Context, cfg *config.Config) error {
	manifestPath := cfg.SelfUpdateManifestPath()

	data, err := os.ReadFile(filepath.Clean(manifestPath))
	if errors.Is(err, os.ErrNotExist) {
		logger.DebugKV(ctx, "No release manifest in working copy, skipping self-update",
			"path", manifestPath)

		return nil
	}

	if err != nil {
		return fmt.Errorf("read release manifest: %w", err)
	}

	var manifest releaseManifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("unmarshal release manifest: %w", err)
	}

	names := make([]string, 0, len(manifest.Files))
	for name := range manifest.Files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if err = applyBinary(ctx, cfg, &manifest, name); err != nil {
			return fmt.Errorf("self-update %s: %w", name, err)
		}
	}

	return nil
}

// applyBinary installs a single binary from the working copy when its
// installed copy does not match the manifest checksum.
func applyBinary(ctx context.Context, cfg *config.Config, manifest *releaseManifest, name string) error {
	want, err := base64.StdEncoding.DecodeString(manifest.Files[name])
	if err != nil {
		return fmt.Errorf("decode checksum: %w", err)
	}

	installed := filepath.Join(cfg.BinDir(), name)

	if current, checksumErr := fileChecksum(installed); checksumErr == nil && bytes.Equal(current, want) {
		return nil
	}

	source := filepath.Join(filepath.Dir(cfg.SelfUpdateManifestPath()), "bin", name)

	payload, err := os.ReadFile(filepath.Clean(source))
	if err != nil {
		return fmt.Errorf("read release binary: %w", err)
	}

	if _, err = os.Stat(installed); err != nil && os.IsNotExist(err) {
		if _, err = os.Create(installed); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Installing provisioner binary",
		"binary", name, "version", manifest.Version)

	err = goupdate.Apply(bytes.NewReader(payload), goupdate.Options{
		TargetPath: installed,
		TargetMode: binaryFileMode,
		Checksum:   want,
		Hash:       checksumFunction,
	})
	if err != nil {
		return err
	}

	oldFileName := installed + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}
