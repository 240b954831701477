package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

/*
	CHAT COMPLETIONS API - STREAM CHUNKS
*/

type chatCompletionStreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// streamDelta fields are pointers to tell an empty delta from an absent one.
type streamDelta struct {
	Role             string               `json:"role,omitempty"`
	Content          *string              `json:"content,omitempty"`
	Reasoning        *string              `json:"reasoning,omitempty"`
	ReasoningContent *string              `json:"reasoning_content,omitempty"` // DeepSeek, Moonshot
	ToolCalls        []streamToolCallPart `json:"tool_calls,omitempty"`
}

type streamToolCallPart struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type chatUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

// StreamChat posts a streaming chat-completions request and returns the open
// stream. A non-2xx answer is returned as *ai.HTTPError before any event.
func (c *Convention) StreamChat(ctx context.Context, endpoint ai.Endpoint, request ai.ChatRequest) (*ai.ChatStream, error) {
	if span := observability.SpanFromContext(ctx); span != nil {
		span.SetAttributes(
			observability.String(observability.AttrSDKMode, Name),
			observability.String(observability.AttrBaseURL, endpoint.BaseURL),
		)
	}

	body, err := utils.MarshalWithExtraBody(requestToChatCompletion(request), endpoint.ExtraBody)
	if err != nil {
		return nil, err
	}

	response, err := utils.DoPostStream(ctx, endpoint.HTTPClient(), endpoint.BaseURL+chatCompletionsEndpoint,
		endpoint.APIKey, body, utils.HeadersFromMap(endpoint.Headers)...)
	if err != nil {
		return nil, err
	}

	scanner := utils.NewSSEScanner(response.Body)
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer utils.CloseWithLog(response.Body)

		// The finish reason arrives before the trailing usage chunk, so the
		// done event is held back until the stream ends.
		finishReason := ""
		for {
			if ctx.Err() != nil {
				yield(ai.StreamEvent{}, ctx.Err())
				return
			}

			payload, err := scanner.Next()
			if errors.Is(err, io.EOF) {
				yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: finishReason}, nil)
				return
			}
			if err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("SSE read error: %w", err))
				return
			}

			// Some backends report failures inside an open stream.
			if streamErr := gjson.Get(payload, "error"); streamErr.Exists() && streamErr.Type != gjson.Null {
				yield(ai.StreamEvent{}, inStreamError(streamErr))
				return
			}

			var chunk chatCompletionStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("failed to parse streaming chunk: %w", err))
				return
			}

			for _, event := range chunkToStreamEvents(&chunk) {
				if event.Type == ai.StreamEventDone {
					finishReason = event.FinishReason
					continue
				}
				if !yield(event, nil) {
					return
				}
			}
		}
	}), nil
}

// inStreamError maps an error object sent as an SSE payload onto an
// *ai.HTTPError so it classifies like a status-code failure.
func inStreamError(value gjson.Result) error {
	status := int(value.Get("code").Int())
	if status < 400 {
		status = 500
	}
	message := value.Get("message").String()
	if message == "" {
		message = value.Raw
	}
	return &ai.HTTPError{StatusCode: status, Body: message}
}

// chunkToStreamEvents converts one chunk into uniform events. A chunk may
// carry content, tool calls and usage at once; usage comes first because
// the final usage chunk has no choices.
func chunkToStreamEvents(chunk *chatCompletionStreamChunk) []ai.StreamEvent {
	var events []ai.StreamEvent

	if chunk.Usage != nil {
		usage := &ai.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
		if chunk.Usage.CompletionTokensDetails != nil {
			usage.ReasoningTokens = chunk.Usage.CompletionTokensDetails.ReasoningTokens
		}
		if chunk.Usage.PromptTokensDetails != nil {
			usage.CachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		events = append(events, ai.StreamEvent{Type: ai.StreamEventUsage, Usage: usage})
	}

	for _, choice := range chunk.Choices {
		delta := choice.Delta

		if delta.Content != nil && *delta.Content != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventContent, Content: *delta.Content})
		}

		reasoning := delta.Reasoning
		if reasoning == nil {
			reasoning = delta.ReasoningContent
		}
		if reasoning != nil && *reasoning != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventReasoning, Reasoning: *reasoning})
		}

		for _, part := range delta.ToolCalls {
			events = append(events, ai.StreamEvent{
				Type: ai.StreamEventToolCall,
				ToolCall: &ai.ToolCallDelta{
					Index:     part.Index,
					ID:        part.ID,
					Name:      part.Function.Name,
					Arguments: part.Function.Arguments,
				},
			})
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: *choice.FinishReason})
		}
	}

	return events
}
