// Package ai defines the shared, vendor-agnostic types used across aimux:
// the uniform request and message model, the streamed response parts, the
// error taxonomy, and the two contracts that tie the layers together.
//
// [ChatProvider] is what the host consumes; every backend adapter implements
// it. [Convention] is one vendor call convention (an "SDK mode"); the generic
// adapter dispatches to a Convention selected by the model's configuration.
// Responses flow back as a [ChatStream] of [StreamEvent] parts.
//
// Failures are classified by [Classify] into the kinds of [ErrorKind] and
// surfaced as [*Error], which matches the package sentinels via errors.Is.
package ai
