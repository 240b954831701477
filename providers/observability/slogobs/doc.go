// Package slogobs implements observability.Provider on top of log/slog.
//
// Spans become debug records, counters are kept in memory and logged on
// every update, and log calls go straight to a slog.Handler that writes
// compact, pretty or JSON lines. Attribute values whose key looks like a
// secret (api keys, tokens, authorization headers) are redacted before they
// reach the output. Format and level come from AIMUX_LOG_FORMAT and
// AIMUX_LOG_LEVEL unless overridden with [WithFormat] and [WithLevel].
package slogobs
