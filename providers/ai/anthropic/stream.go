package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

/*
	MESSAGES API - SSE EVENTS

	message_start -> content_block_start -> content_block_delta* ->
	content_block_stop -> message_delta -> message_stop
*/

// streamEvent is the envelope of every SSE payload; Type selects which of
// the optional fields are set.
type streamEvent struct {
	Type         string        `json:"type"`
	Message      *startMessage `json:"message,omitempty"`
	Index        int           `json:"index"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *streamDelta  `json:"delta,omitempty"`
	Usage        *usage        `json:"usage,omitempty"`
	Error        *streamError  `json:"error,omitempty"`
}

type startMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage usage  `json:"usage"`
}

type streamDelta struct {
	Type        string `json:"type,omitempty"` // text_delta, thinking_delta, input_json_delta
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"` // message_delta only
}

type usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// errorStatus maps error event types to the HTTP status the same failure
// would carry outside a stream.
var errorStatus = map[string]int{
	"invalid_request_error": http.StatusBadRequest,
	"authentication_error":  http.StatusUnauthorized,
	"permission_error":      http.StatusForbidden,
	"not_found_error":       http.StatusNotFound,
	"rate_limit_error":      http.StatusTooManyRequests,
	"api_error":             http.StatusInternalServerError,
	"overloaded_error":      529,
}

// StreamChat posts a streaming messages request and returns the open stream.
// A non-2xx answer is returned as *ai.HTTPError before any event.
func (c *Convention) StreamChat(ctx context.Context, endpoint ai.Endpoint, request ai.ChatRequest) (*ai.ChatStream, error) {
	if span := observability.SpanFromContext(ctx); span != nil {
		span.SetAttributes(
			observability.String(observability.AttrSDKMode, Name),
			observability.String(observability.AttrBaseURL, endpoint.BaseURL),
		)
	}

	body, err := utils.MarshalWithExtraBody(requestToMessages(request), endpoint.ExtraBody)
	if err != nil {
		return nil, err
	}

	// The key travels in x-api-key, so no bearer token is passed.
	response, err := utils.DoPostStream(ctx, endpoint.HTTPClient(), endpoint.BaseURL+messagesEndpoint,
		"", body, buildHeaders(endpoint)...)
	if err != nil {
		return nil, err
	}

	scanner := utils.NewSSEScanner(response.Body)
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer utils.CloseWithLog(response.Body)

		var (
			toolIndex   = -1
			blockToTool = make(map[int]int)
			input       usage
			stopReason  string
			sawDelta    bool
		)

		for {
			if ctx.Err() != nil {
				yield(ai.StreamEvent{}, ctx.Err())
				return
			}

			payload, err := scanner.Next()
			if errors.Is(err, io.EOF) {
				// Some compatible servers close without message_stop.
				if sawDelta {
					yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: mapStopReason(stopReason)}, nil)
				} else {
					yield(ai.StreamEvent{}, fmt.Errorf("stream ended before message_stop: %w", io.ErrUnexpectedEOF))
				}
				return
			}
			if err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("SSE read error: %w", err))
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("failed to parse stream event: %w", err))
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					input = event.Message.Usage
				}

			case "content_block_start":
				if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
					continue
				}
				toolIndex++
				blockToTool[event.Index] = toolIndex
				if !yield(ai.StreamEvent{
					Type:     ai.StreamEventToolCall,
					ToolCall: &ai.ToolCallDelta{Index: toolIndex, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name},
				}, nil) {
					return
				}

			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				var out ai.StreamEvent
				switch event.Delta.Type {
				case "text_delta":
					out = ai.StreamEvent{Type: ai.StreamEventContent, Content: event.Delta.Text}
				case "thinking_delta":
					out = ai.StreamEvent{Type: ai.StreamEventReasoning, Reasoning: event.Delta.Thinking}
				case "input_json_delta":
					index, ok := blockToTool[event.Index]
					if !ok || event.Delta.PartialJSON == "" {
						continue
					}
					out = ai.StreamEvent{Type: ai.StreamEventToolCall, ToolCall: &ai.ToolCallDelta{Index: index, Arguments: event.Delta.PartialJSON}}
				default:
					continue
				}
				if out.Content == "" && out.Reasoning == "" && out.ToolCall == nil {
					continue
				}
				if !yield(out, nil) {
					return
				}

			case "message_delta":
				sawDelta = true
				if event.Delta != nil && event.Delta.StopReason != "" {
					stopReason = event.Delta.StopReason
				}
				output := 0
				if event.Usage != nil {
					output = event.Usage.OutputTokens
				}
				if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: &ai.Usage{
					PromptTokens:     input.InputTokens,
					CompletionTokens: output,
					TotalTokens:      input.InputTokens + output,
					CachedTokens:     input.CacheCreationInputTokens + input.CacheReadInputTokens,
				}}, nil) {
					return
				}

			case "message_stop":
				yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: mapStopReason(stopReason)}, nil)
				return

			case "error":
				yield(ai.StreamEvent{}, inStreamError(event.Error))
				return
			}
		}
	}), nil
}

// inStreamError turns an error event into an *ai.HTTPError carrying the
// status the same failure has outside a stream.
func inStreamError(streamErr *streamError) error {
	if streamErr == nil {
		return &ai.HTTPError{StatusCode: http.StatusInternalServerError, Body: "unknown stream error"}
	}
	status, ok := errorStatus[streamErr.Type]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ai.HTTPError{StatusCode: status, Body: streamErr.Type + ": " + streamErr.Message}
}
