package systemd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/carpi-provision/internal/execx"
	"github.com/oshokin/carpi-provision/internal/logger"
)

// ErrUnitSync is returned when copying unit files or reloading the service
// manager fails. Callers decide severity: fatal during install, logged and
// tolerated during updates.
var ErrUnitSync = errors.New("unit synchronization failed")

// Manager abstracts the host service manager for the orchestration services.
type Manager interface {
	// SyncUnits copies unit files from sourceDir into the host unit directory
	// and reloads the service manager.
	SyncUnits(ctx context.Context, sourceDir string) error
	// EnableUnits marks units to start at boot.
	EnableUnits(ctx context.Context, units []string) error
	// DisableUnits unmarks units from starting at boot.
	DisableUnits(ctx context.Context, units []string) error
	// Start starts a unit.
	Start(ctx context.Context, unit string) error
	// Stop stops a unit.
	Stop(ctx context.Context, unit string) error
	// Restart stops and starts a unit.
	Restart(ctx context.Context, unit string) error
	// IsActive reports whether a unit is currently running.
	IsActive(ctx context.Context, unit string) (bool, error)
	// RemoveUnits deletes the named unit files and reloads the service manager.
	RemoveUnits(ctx context.Context, units []string) error
}

// Client implements Manager by driving systemctl.
type Client struct {
	runner  execx.Runner
	unitDir string
}

// NewClient creates a systemd client writing units into unitDir
// (normally /etc/systemd/system).
func NewClient(runner execx.Runner, unitDir string) *Client {
	return &Client{
		runner:  runner,
		unitDir: unitDir,
	}
}

// DaemonReload reloads the service manager's unit cache.
func (c *Client) DaemonReload(ctx context.Context) error {
	if _, err := c.runner.Run(ctx, nil, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	return nil
}

// EnableUnits marks the given units to start on boot.
func (c *Client) EnableUnits(ctx context.Context, units []string) error {
	if len(units) == 0 {
		return nil
	}

	args := append([]string{"enable"}, units...)
	if _, err := c.runner.Run(ctx, nil, "systemctl", args...); err != nil {
		return fmt.Errorf("enable %s: %w", strings.Join(units, " "), err)
	}

	return nil
}

// DisableUnits unmarks the given units from starting on boot.
func (c *Client) DisableUnits(ctx context.Context, units []string) error {
	if len(units) == 0 {
		return nil
	}

	args := append([]string{"disable"}, units...)
	if _, err := c.runner.Run(ctx, nil, "systemctl", args...); err != nil {
		return fmt.Errorf("disable %s: %w", strings.Join(units, " "), err)
	}

	return nil
}

// Start starts the unit.
func (c *Client) Start(ctx context.Context, unit string) error {
	if _, err := c.runner.Run(ctx, nil, "systemctl", "start", unit); err != nil {
		return fmt.Errorf("start %s: %w", unit, err)
	}

	return nil
}

// Stop stops the unit.
func (c *Client) Stop(ctx context.Context, unit string) error {
	if _, err := c.runner.Run(ctx, nil, "systemctl", "stop", unit); err != nil {
		return fmt.Errorf("stop %s: %w", unit, err)
	}

	return nil
}

// Restart stops and starts the unit via the service manager.
func (c *Client) Restart(ctx context.Context, unit string) error {
	logger.InfoKV(ctx, "Restarting unit", "unit", unit)

	if _, err := c.runner.Run(ctx, nil, "systemctl", "restart", unit); err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}

	return nil
}

// IsActive reports whether the unit is currently running.
// systemctl exits non-zero for inactive units; the printed state is still
// authoritative, so the error only matters when no state was printed.
func (c *Client) IsActive(ctx context.Context, unit string) (bool, error) {
	output, err := c.runner.Run(ctx, nil, "systemctl", "is-active", unit)

	state := strings.TrimSpace(string(output))
	if state == "" && err != nil {
		return false, fmt.Errorf("is-active %s: %w", unit, err)
	}

	return state == "active", nil
}
