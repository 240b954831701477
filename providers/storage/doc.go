// Package storage defines the key/value [Store] that aimux persists state
// through. The host owns the real secret storage; aimux only relies on this
// contract.
//
// Three implementations are provided: inmemory for tests and ephemeral
// sessions, filestore for a single JSON file on disk (the CLI default), and
// pgstore for a shared PostgreSQL table.
package storage
