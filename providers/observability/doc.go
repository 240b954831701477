// Package observability defines the tracing, metrics and logging interfaces
// used across aimux, together with the shared attribute vocabulary in
// semconv.go. [Provider] is the injectable bundle; spans travel through a
// context via [ContextWithSpan] and [SpanFromContext].
//
// The slogobs subpackage is the implementation wired by default.
package observability
