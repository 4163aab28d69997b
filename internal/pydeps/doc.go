// Package pydeps synchronizes the managed application's declared runtime
// dependencies into the isolated environment. The manifest format is opaque
// here; the file is handed to pip as-is, with upgrades forced and the local
// package cache bypassed so a long-lived device never serves stale or
// corrupted cached artifacts.
package pydeps
