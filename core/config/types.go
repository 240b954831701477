package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/leofalp/aimux/providers/ai"
)

// SDKMode selects one of the two vendor call conventions.
type SDKMode string

const (
	// SDKModeOpenAI is the chat-completions convention (mode A).
	SDKModeOpenAI SDKMode = "openai"
	// SDKModeAnthropic is the messages convention (mode B).
	SDKModeAnthropic SDKMode = "anthropic"
)

// Valid reports whether m names a supported convention.
func (m SDKMode) Valid() bool {
	return m == SDKModeOpenAI || m == SDKModeAnthropic
}

const (
	// DefaultMaxInputTokens applies when a model omits its context window.
	DefaultMaxInputTokens = 128000
	// DefaultMaxOutputTokens applies when a model omits its output limit.
	DefaultMaxOutputTokens = 4096
)

// ErrUnknownModel is returned when a model id is not in the provider's catalog.
var ErrUnknownModel = errors.New("unknown model")

// Capabilities flags optional model features.
type Capabilities struct {
	ToolCalling bool `yaml:"toolCalling,omitempty" json:"toolCalling,omitempty"`
	ImageInput  bool `yaml:"imageInput,omitempty" json:"imageInput,omitempty"`
}

// ModelConfig is one selectable model. ID is stable across catalog refreshes.
type ModelConfig struct {
	ID string `yaml:"id" json:"id"`
	// Name is the display name; defaults to ID.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Model is the upstream model identifier when it differs from ID.
	Model           string       `yaml:"model,omitempty" json:"model,omitempty"`
	MaxInputTokens  int          `yaml:"maxInputTokens,omitempty" json:"maxInputTokens,omitempty"`
	MaxOutputTokens int          `yaml:"maxOutputTokens,omitempty" json:"maxOutputTokens,omitempty"`
	Capabilities    Capabilities `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	SDKMode         SDKMode      `yaml:"sdkMode,omitempty" json:"sdkMode,omitempty"`
	BaseURL         string       `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	// CustomHeader and ExtraBody are merged over the provider's; a nil
	// value removes the key.
	CustomHeader map[string]any `yaml:"customHeader,omitempty" json:"customHeader,omitempty"`
	ExtraBody    map[string]any `yaml:"extraBody,omitempty" json:"extraBody,omitempty"`
}

// UpstreamModel returns the identifier sent to the vendor.
func (m ModelConfig) UpstreamModel() string {
	if m.Model != "" {
		return m.Model
	}
	return m.ID
}

// RateLimit is a quota of Requests per WindowMs milliseconds.
type RateLimit struct {
	Requests int   `yaml:"requests" json:"requests"`
	WindowMs int64 `yaml:"windowMs" json:"windowMs"`
}

// Window returns the quota window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// ProviderConfig describes one backend family. Treat it as immutable:
// WithModels returns a modified copy.
type ProviderConfig struct {
	Key         string `yaml:"-" json:"key"`
	DisplayName string `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	BaseURL     string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	// APIKeyTemplate names where the key comes from, e.g. "${OPENAI_API_KEY}".
	APIKeyTemplate string `yaml:"apiKeyTemplate,omitempty" json:"apiKeyTemplate,omitempty"`
	// APIKey is a directly configured key, already env-expanded.
	APIKey       string         `yaml:"apiKey,omitempty" json:"-"`
	SDKMode      SDKMode        `yaml:"sdkMode,omitempty" json:"sdkMode,omitempty"`
	Models       []ModelConfig  `yaml:"models,omitempty" json:"models,omitempty"`
	CustomHeader map[string]any `yaml:"customHeader,omitempty" json:"customHeader,omitempty"`
	ExtraBody    map[string]any `yaml:"extraBody,omitempty" json:"extraBody,omitempty"`
	RateLimit    *RateLimit     `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	// DiscoveryRateLimit, when set, gives model listing its own quota.
	DiscoveryRateLimit *RateLimit `yaml:"discoveryRateLimit,omitempty" json:"discoveryRateLimit,omitempty"`
}

// WithModels returns a copy of c whose catalog is models.
func (c ProviderConfig) WithModels(models []ModelConfig) ProviderConfig {
	c.Models = slices.Clone(models)
	return c
}

// FindModel returns the model with the given id.
func (c ProviderConfig) FindModel(id string) (ModelConfig, bool) {
	for _, model := range c.Models {
		if model.ID == id {
			return model, true
		}
	}
	return ModelConfig{}, false
}

// Normalize fills defaults: display names, SDK modes and token limits.
func (c ProviderConfig) Normalize() ProviderConfig {
	if c.DisplayName == "" {
		c.DisplayName = displayNameFromKey(c.Key)
	}
	if c.SDKMode == "" {
		c.SDKMode = SDKModeOpenAI
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	models := make([]ModelConfig, len(c.Models))
	for i, model := range c.Models {
		if model.Name == "" {
			model.Name = model.ID
		}
		if model.SDKMode == "" {
			model.SDKMode = c.SDKMode
		}
		if model.MaxInputTokens == 0 {
			model.MaxInputTokens = DefaultMaxInputTokens
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = DefaultMaxOutputTokens
		}
		model.BaseURL = strings.TrimRight(model.BaseURL, "/")
		models[i] = model
	}
	c.Models = models
	return c
}

// Validate checks the invariants of a normalized config. Errors wrap
// ai.ErrConfiguration.
func (c ProviderConfig) Validate() error {
	var problems []string
	if c.Key == "" {
		problems = append(problems, "provider key is empty")
	}
	if c.SDKMode != "" && !c.SDKMode.Valid() {
		problems = append(problems, fmt.Sprintf("unsupported sdkMode %q", c.SDKMode))
	}
	if c.RateLimit != nil && (c.RateLimit.Requests <= 0 || c.RateLimit.WindowMs <= 0) {
		problems = append(problems, "rateLimit must have positive requests and windowMs")
	}

	seen := make(map[string]bool, len(c.Models))
	for i, model := range c.Models {
		switch {
		case model.ID == "":
			problems = append(problems, fmt.Sprintf("models[%d]: id is empty", i))
		case seen[model.ID]:
			problems = append(problems, fmt.Sprintf("models[%d]: duplicate id %q", i, model.ID))
		}
		seen[model.ID] = true
		if model.MaxInputTokens < 0 || model.MaxOutputTokens < 0 {
			problems = append(problems, fmt.Sprintf("models[%d]: token limits must not be negative", i))
		}
		if model.SDKMode != "" && !model.SDKMode.Valid() {
			problems = append(problems, fmt.Sprintf("models[%d]: unsupported sdkMode %q", i, model.SDKMode))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: provider %q: %s", ai.ErrConfiguration, c.Key, strings.Join(problems, "; "))
	}
	return nil
}

func displayNameFromKey(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, part := range parts {
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}
