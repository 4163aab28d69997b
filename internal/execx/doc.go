// Package execx wraps external tool invocation behind a small Runner
// interface. Production code shells out; tests substitute a recording fake
// so no host state is touched.
package execx
