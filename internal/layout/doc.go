// Package layout owns the fixed installation root, the dedicated service
// account and the directory convention (working copy, isolated runtime,
// data, logs, binaries). Creation is idempotent and follows least privilege:
// the account can write only to the runtime, data and log directories.
package layout
