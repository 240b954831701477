// Package registry maps provider keys to adapters. Registration validates
// and merges each provider over its known defaults; the adapter itself is
// built on first use and reused afterwards.
//
// A provider whose known entry is marked SpecializedFactory is served by the
// factory registered for its key, when there is one. Every other provider,
// including keys with no known entry, gets the generic factory.
package registry
