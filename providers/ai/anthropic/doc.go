// Package anthropic implements the Anthropic messages convention as an
// [ai.Convention]: requests go to <base>/messages with an x-api-key header,
// and the SSE lifecycle (message_start, content_block_*, message_delta,
// message_stop) is translated into uniform [ai.StreamEvent] values.
//
// Any vendor exposing the same wire format can be reached through it by
// pointing the endpoint base URL elsewhere.
package anthropic
