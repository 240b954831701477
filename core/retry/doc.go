// Package retry runs operations with bounded, exponentially growing backoff.
//
// The first attempt runs immediately. A failure the predicate rejects is
// returned as-is; a retryable one waits
// min(MaxDelay, InitialDelay*BackoffMultiplier^(attempt-1)), optionally
// jittered, and tries again. When every attempt fails the returned error
// wraps both [ErrRetryExhausted] and the last failure. Rate-limit errors
// (HTTP 429 and the usual vendor markers) are always retried when
// DetectRateLimit is set.
//
// Only the establishment of a stream is retried. Once parts have been
// delivered to the caller, a failure is reported through the stream.
package retry
