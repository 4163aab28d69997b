package execx

import (
	"context"
	"strings"

	"github.com/oshokin/carpi-provision/internal/identity"
)

// Call records a single Runner invocation.
type Call struct {
	// As is the identity the call ran under (nil for the current process).
	As *identity.Identity
	// Name is the executable name.
	Name string
	// Args are the command arguments.
	Args []string
}

// String renders the call as a shell-like line, convenient for assertions.
func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// FakeRunner is a Runner for tests. It records every call and delegates the
// result to an optional handler.
type FakeRunner struct {
	// Calls holds all recorded invocations in order.
	Calls []Call
	// Handler produces the result for a call. When nil, calls succeed with no output.
	Handler func(name string, args ...string) ([]byte, error)
}

// Run records the invocation and returns the scripted result.
func (r *FakeRunner) Run(_ context.Context, as *identity.Identity, name string, args ...string) ([]byte, error) {
	r.Calls = append(r.Calls, Call{As: as, Name: name, Args: args})

	if r.Handler == nil {
		return nil, nil
	}

	return r.Handler(name, args...)
}

// CommandLines returns every recorded call rendered via String.
func (r *FakeRunner) CommandLines() []string {
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}

	return lines
}
