package openai

import (
	"github.com/leofalp/aimux/providers/ai"
)

/*
	CHAT COMPLETIONS API - INPUT
*/

type chatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	Tools         []chatTool     `json:"tools,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"` // string or []contentPart
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type contentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *contentPartImage `json:"image_url,omitempty"`
}

type contentPartImage struct {
	URL string `json:"url"`
}

type chatTool struct {
	Type     string       `json:"type"` // "function"
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function chatToolCallFunction `json:"function"`
}

type chatToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// requestToChatCompletion converts the uniform request into a streaming
// chat-completions body. The system prompt becomes the first message.
func requestToChatCompletion(request ai.ChatRequest) chatCompletionRequest {
	req := chatCompletionRequest{
		Model:         request.Model,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}

	if request.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{
			Role:    string(ai.RoleSystem),
			Content: request.SystemPrompt,
		})
	}

	for _, msg := range request.Messages {
		chatMsg := chatMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}

		if len(msg.Images) > 0 {
			parts := make([]contentPart, 0, len(msg.Images)+1)
			if msg.Content != "" {
				parts = append(parts, contentPart{Type: "text", Text: msg.Content})
			}
			for _, image := range msg.Images {
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &contentPartImage{URL: image}})
			}
			chatMsg.Content = parts
		}

		for _, toolCall := range msg.ToolCalls {
			callType := toolCall.Type
			if callType == "" {
				callType = "function"
			}
			chatMsg.ToolCalls = append(chatMsg.ToolCalls, chatToolCall{
				ID:   toolCall.ID,
				Type: callType,
				Function: chatToolCallFunction{
					Name:      toolCall.Function.Name,
					Arguments: ai.RepairArguments(toolCall.Function.Arguments),
				},
			})
		}

		// An assistant turn that only calls tools carries null content.
		if msg.Role == ai.RoleAssistant && msg.Content == "" && len(msg.ToolCalls) > 0 {
			chatMsg.Content = nil
		}

		req.Messages = append(req.Messages, chatMsg)
	}

	for _, tool := range request.Tools {
		function := chatFunction{Name: tool.Name, Description: tool.Description}
		if len(tool.Parameters) > 0 {
			function.Parameters = tool.Parameters
		}
		req.Tools = append(req.Tools, chatTool{Type: "function", Function: function})
	}

	if cfg := request.GenerationConfig; cfg != nil {
		if cfg.Temperature > 0 {
			temperature := float64(cfg.Temperature)
			req.Temperature = &temperature
		}
		if cfg.TopP > 0 {
			topP := float64(cfg.TopP)
			req.TopP = &topP
		}
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			req.MaxTokens = &maxTokens
		}
	}

	return req
}
