package storage

import (
	"context"
	"strings"
)

// Store is the key/value contract used for credentials, the account index
// and the model cache. Implementations must be safe for concurrent use and
// make each Set or Delete atomic per key.
type Store interface {
	// Get returns the value stored under key. A missing key is reported with
	// ok=false and a nil error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Join builds a hierarchical key such as "accounts/openai/<id>".
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}
