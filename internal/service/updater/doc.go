// Package updater runs the scheduled update cycle: fetch the tracked remote,
// fast-forward the working copy when the remote is strictly ahead, resync
// dependencies and unit files, self-update the provisioner binaries from the
// working copy, and restart the managed service exactly once per applied
// update. A marker file guards against overlapping cycles; diverged history
// aborts the cycle without touching the running service.
package updater
