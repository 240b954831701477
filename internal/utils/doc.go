// Package utils provides shared low-level helpers used by the aimux
// conventions and adapters: HTTP helpers for JSON discovery calls and SSE
// streaming, extra-body injection into encoded requests, and secret hashing.
//
// Key entry points: [DoGet] for catalog queries, [DoPostStream] together with
// [SSEScanner] for Server-Sent Events, [MarshalWithExtraBody] for applying
// configured body overrides, and [ShortHash] for logging-safe fingerprints.
package utils
