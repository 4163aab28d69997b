// Package identity models the dedicated service account as an explicit,
// injectable value. Repository, dependency and layout operations receive an
// Identity instead of assuming they run as a particular user, which keeps
// the privilege boundary visible and testable.
package identity
