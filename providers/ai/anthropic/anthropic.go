package anthropic

import (
	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
)

const (
	messagesEndpoint = "/messages"
	modelsEndpoint   = "/models"

	// anthropicVersion is the required anthropic-version header value.
	anthropicVersion = "2023-06-01"

	// defaultMaxTokens is sent when the request sets none; the API requires it.
	defaultMaxTokens = 4096
)

// Name is the SDK mode identifier used in configuration.
const Name = "anthropic"

// Convention implements ai.Convention for the messages format.
type Convention struct{}

// New returns the messages convention.
func New() *Convention {
	return &Convention{}
}

var _ ai.Convention = (*Convention)(nil)

// Name returns "anthropic".
func (c *Convention) Name() string {
	return Name
}

// buildHeaders returns the auth and version headers followed by the
// endpoint's own headers, which may override them.
func buildHeaders(endpoint ai.Endpoint) []utils.HeaderOption {
	headers := []utils.HeaderOption{{Key: "anthropic-version", Value: anthropicVersion}}
	if endpoint.APIKey != "" {
		headers = append(headers, utils.HeaderOption{Key: "x-api-key", Value: endpoint.APIKey})
	}
	return append(headers, utils.HeadersFromMap(endpoint.Headers)...)
}
