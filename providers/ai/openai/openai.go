package openai

import (
	"github.com/leofalp/aimux/providers/ai"
)

const (
	chatCompletionsEndpoint = "/chat/completions"
	modelsEndpoint          = "/models"
)

// Name is the SDK mode identifier used in configuration.
const Name = "openai"

// Convention implements ai.Convention for the chat-completions format.
type Convention struct{}

// New returns the chat-completions convention.
func New() *Convention {
	return &Convention{}
}

var _ ai.Convention = (*Convention)(nil)

// Name returns "openai".
func (c *Convention) Name() string {
	return Name
}
