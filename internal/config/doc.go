// Package config defines the provisioning settings used by all binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type carries the installation root, service account, git remote
// and branch, unit names and manifest locations. Every other component
// receives these values explicitly instead of reading fixed paths itself.
package config
