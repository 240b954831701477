package ai

import (
	"context"
	"net/http"
)

// ChatProvider is the contract every backend adapter satisfies, whether it is
// the config-driven generic adapter or a specialized one.
type ChatProvider interface {
	// ListModels returns the selectable models. With Silent set it must never
	// prompt for credentials and degrades to an empty list when none exist.
	ListModels(ctx context.Context, options ListOptions) ([]ModelInfo, error)

	// ChatCompletion starts a streamed completion for the given model id.
	// Errors returned before the first part are typed (see [Error]); errors
	// during iteration are yielded by the stream.
	ChatCompletion(ctx context.Context, model string, messages []Message, options ChatOptions) (*ChatStream, error)

	// TokenCount estimates how many tokens text occupies for model.
	TokenCount(ctx context.Context, model string, text string) (int, error)
}

// ListOptions controls model discovery.
type ListOptions struct {
	Silent bool
}

// ChatOptions carries per-request options that are not part of the message list.
type ChatOptions struct {
	SystemPrompt string
	Tools        []ToolDescription
	MaxTokens    int
	Temperature  float32
}

// ModelCapabilities flags optional model features.
type ModelCapabilities struct {
	ToolCalling bool `json:"tool_calling"`
	ImageInput  bool `json:"image_input"`
}

// ModelInfo describes a model as exposed to the host.
type ModelInfo struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Provider        string            `json:"provider"`
	ProviderName    string            `json:"provider_name"`
	MaxInputTokens  int               `json:"max_input_tokens"`
	MaxOutputTokens int               `json:"max_output_tokens"`
	Capabilities    ModelCapabilities `json:"capabilities"`
	// IsDefault marks the model the user picked last for this provider.
	IsDefault bool `json:"is_default,omitempty"`
}

// Endpoint is everything a convention needs to reach a vendor: the merged
// base URL, credential, headers and extra body fields.
type Endpoint struct {
	BaseURL   string
	APIKey    string
	Headers   map[string]string
	ExtraBody map[string]any
	Client    *http.Client
}

// HTTPClient returns the configured client or http.DefaultClient.
func (e Endpoint) HTTPClient() *http.Client {
	if e.Client == nil {
		return http.DefaultClient
	}
	return e.Client
}

// Convention is one vendor call convention (an "SDK mode"). Implementations
// translate a ChatRequest into vendor JSON and stream vendor output back as
// uniform StreamEvents.
type Convention interface {
	// Name identifies the convention, e.g. "openai" or "anthropic".
	Name() string

	// StreamChat sends request and returns the open stream. Errors before the
	// stream opens are returned directly (typically *HTTPError).
	StreamChat(ctx context.Context, endpoint Endpoint, request ChatRequest) (*ChatStream, error)

	// ListModels queries the vendor's model catalog.
	ListModels(ctx context.Context, endpoint Endpoint) ([]ModelInfo, error)
}
