// Package ratelimit implements per-resource sliding-window admission control.
//
// A [Registry] maps resource names (usually a provider key, or
// "<key>:models" for discovery) to a [Limiter]. Throttle delays callers that
// exceed the quota instead of rejecting them, and the prune-check-record
// step is atomic, so concurrent callers can never both take the last slot.
package ratelimit
