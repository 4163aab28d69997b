package execx

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/oshokin/carpi-provision/internal/identity"
)

// Runner executes external tools. It is the single seam between this
// subsystem and the host commands it drives (systemctl, useradd, python),
// so orchestration logic can be tested with a recording fake.
type Runner interface {
	// Run executes name with args under the given identity and returns the
	// combined output. A nil identity runs with the current process identity.
	Run(ctx context.Context, as *identity.Identity, name string, args ...string) ([]byte, error)
}

// ShellRunner implements Runner by invoking the tool directly.
type ShellRunner struct{}

// NewShellRunner creates a Runner backed by the host's executables.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes the command and returns an error carrying the combined output on failure.
func (r *ShellRunner) Run(ctx context.Context, as *identity.Identity, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	as.Apply(cmd)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", name, err, string(output))
	}

	return output, nil
}
