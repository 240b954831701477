// Package generic is the configuration-driven backend adapter. One Provider
// serves one provider key: it resolves the credential, merges provider and
// model overrides, dispatches to the SDK-mode convention and wraps every
// stream in the rate-limit, retry, timeout and logging middlewares.
//
// Model listing never blocks on the network: it answers from the cache or
// the configured catalog and refreshes in the background at most once per
// RefreshInterval.
package generic
