// Package systemd keeps the host service manager in sync with the unit
// definitions shipped inside the working copy and exposes the start, stop,
// restart and enable operations the orchestration services need. Unit file
// contents are opaque and copied verbatim; only their names form the
// contract. The package only ever touches units it is told about by name.
package systemd
