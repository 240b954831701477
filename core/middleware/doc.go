// Package middleware builds the chain a chat completion travels through
// before it reaches an SDK-mode convention.
//
// The generic adapter assembles, outermost first:
//
//	Observability -> Logging -> Timeout -> Retry -> RateLimit -> convention
//
// so the span and log entry see the final outcome, the timeout bounds the
// whole stream including retries, and every retry attempt is throttled.
//
// Retry only covers opening the stream. Errors raised after the first event
// are yielded by the stream and never retried.
package middleware
