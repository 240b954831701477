package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/leofalp/aimux/providers/ai"
)

/*
	MESSAGES API - INPUT
*/

type messagesRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []contentBlock `json:"content"`
}

// contentBlock is a union discriminated by Type: text, image, tool_use or
// tool_result.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *imageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

// requestToMessages converts the uniform request into a streaming messages
// request. The system prompt goes to the top-level field, and consecutive
// tool results are merged into one user turn because the API requires
// alternating roles.
func requestToMessages(request ai.ChatRequest) messagesRequest {
	req := messagesRequest{
		Model:     request.Model,
		System:    request.SystemPrompt,
		MaxTokens: defaultMaxTokens,
		Stream:    true,
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleUser:
			blocks := imageBlocks(msg.Images)
			if msg.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			req.Messages = append(req.Messages, anthropicMessage{Role: "user", Content: blocks})

		case ai.RoleAssistant:
			var blocks []contentBlock
			if msg.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, toolCall := range msg.ToolCalls {
				blocks = append(blocks, contentBlock{
					Type:  "tool_use",
					ID:    toolCall.ID,
					Name:  toolCall.Function.Name,
					Input: json.RawMessage(ai.RepairArguments(toolCall.Function.Arguments)),
				})
			}
			if len(blocks) > 0 {
				req.Messages = append(req.Messages, anthropicMessage{Role: "assistant", Content: blocks})
			}

		case ai.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}
			if last := len(req.Messages) - 1; last >= 0 && isToolResultTurn(req.Messages[last]) {
				req.Messages[last].Content = append(req.Messages[last].Content, block)
			} else {
				req.Messages = append(req.Messages, anthropicMessage{Role: "user", Content: []contentBlock{block}})
			}

		case ai.RoleSystem:
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += msg.Content
		}
	}

	for _, tool := range request.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = emptySchema
		}
		req.Tools = append(req.Tools, anthropicTool{Name: tool.Name, Description: tool.Description, InputSchema: schema})
	}

	if cfg := request.GenerationConfig; cfg != nil {
		if cfg.MaxTokens > 0 {
			req.MaxTokens = cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			temperature := float64(cfg.Temperature)
			req.Temperature = &temperature
		}
		if cfg.TopP > 0 {
			topP := float64(cfg.TopP)
			req.TopP = &topP
		}
	}

	return req
}

func isToolResultTurn(msg anthropicMessage) bool {
	if msg.Role != "user" || len(msg.Content) == 0 {
		return false
	}
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			return false
		}
	}
	return true
}

// imageBlocks turns data URLs into base64 sources and anything else into
// url sources.
func imageBlocks(images []string) []contentBlock {
	var blocks []contentBlock
	for _, image := range images {
		source := &imageSource{Type: "url", URL: image}
		if rest, ok := strings.CutPrefix(image, "data:"); ok {
			if meta, data, found := strings.Cut(rest, ","); found {
				source = &imageSource{
					Type:      "base64",
					MediaType: strings.TrimSuffix(meta, ";base64"),
					Data:      data,
				}
			}
		}
		blocks = append(blocks, contentBlock{Type: "image", Source: source})
	}
	return blocks
}

// mapStopReason converts a stop_reason to the finish reason used by the
// chat-completions convention.
func mapStopReason(stopReason string) string {
	switch stopReason {
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}
