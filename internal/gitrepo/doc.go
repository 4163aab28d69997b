// Package gitrepo wraps the on-disk clone of the application tree behind a
// small repository abstraction: ensure-cloned, fetch, fast-forward pull and
// current commit. All git interaction happens in-process via go-git, which
// keeps the divergence policy testable against local repositories with no
// network and no external git binary.
//
// The policy is strict: the working copy must always be a clean,
// fast-forwardable clone of the tracked branch. Divergence is surfaced, not
// resolved.
package gitrepo
