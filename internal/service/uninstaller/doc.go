// Package uninstaller removes the deployment: stops and disables the managed
// units, deletes their unit files, removes the service account and the
// installation tree. Persisted data and logs survive unless purging is
// requested explicitly.
package uninstaller
