// Package inmemory provides a thread-safe, map-backed storage.Store.
// Values are lost when the process exits.
package inmemory
