// Package version exposes build metadata injected via ldflags and a cobra
// subcommand to print it. The updater relies on the embedded version to
// decide whether the provisioner binaries shipped in the working copy are
// newer than the installed ones.
package version
