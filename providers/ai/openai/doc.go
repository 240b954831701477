// Package openai is the chat-completions SDK mode: the request and SSE
// stream format of OpenAI's /chat/completions endpoint, which most hosted
// and self-hosted backends also speak.
//
// [Convention] is stateless. Everything vendor-specific (base URL, key,
// extra headers, extra body fields) arrives through [ai.Endpoint] on each
// call, already merged by the generic adapter.
package openai
