// Package installer provisions the appliance from a blank device to a
// running deployment: installation layout and service account, initial
// repository clone, isolated runtime dependencies, service units, and the
// first start of the managed service. Every step is idempotent so a second
// invocation converges instead of failing.
package installer
