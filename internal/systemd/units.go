package systemd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/carpi-provision/internal/logger"
)

const unitFilePermissions = 0o644

// SyncUnits copies every unit definition from the working copy into the host
// unit directory, unconditionally overwriting existing copies (the working
// copy is always authoritative), then reloads the service manager. It never
// starts or restarts anything; that decision belongs to the caller.
func (c *Client) SyncUnits(ctx context.Context, sourceDir string) error {
	units, err := discoverUnitFiles(sourceDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnitSync, err)
	}

	logger.InfoKV(ctx, "Synchronizing unit files",
		"source", sourceDir, "count", len(units), "dest", c.unitDir)

	for _, name := range units {
		src := filepath.Join(sourceDir, name)
		dst := filepath.Join(c.unitDir, name)

		if err = copyUnitFile(src, dst); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrUnitSync, name, err)
		}
	}

	if err = c.DaemonReload(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrUnitSync, err)
	}

	return nil
}

// RemoveUnits deletes the named unit files from the host unit directory and
// reloads the service manager. Units that were never installed are skipped.
func (c *Client) RemoveUnits(ctx context.Context, units []string) error {
	for _, name := range units {
		path := filepath.Join(c.unitDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: remove %s: %s", ErrUnitSync, name, err)
		}
	}

	if err := c.DaemonReload(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrUnitSync, err)
	}

	return nil
}

// discoverUnitFiles lists service and timer definitions in the source directory.
func discoverUnitFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read unit source %s: %w", dir, err)
	}

	var units []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".service") || strings.HasSuffix(name, ".timer") {
			units = append(units, name)
		}
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("no unit files found in %s", dir)
	}

	return units, nil
}

// copyUnitFile copies src over dst atomically: the content lands in a
// temporary file in the destination directory and is renamed into place, so
// a power loss mid-copy never leaves a truncated unit.
func copyUnitFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".carpi-unit-*")
	if err != nil {
		return err
	}

	tmpPath := tmpFile.Name()

	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err = io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err = tmpFile.Chmod(unitFilePermissions); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err = tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// Client must satisfy the interface consumed by the services.
var _ Manager = (*Client)(nil)
