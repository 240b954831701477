// Package ollama adapts a local Ollama daemon. Chat goes through its
// OpenAI-compatible endpoint; models are listed from the native /api/tags
// endpoint, which also reports models that the compatible listing omits.
// No credential is needed.
package ollama

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/chat"
	"github.com/leofalp/aimux/providers/chat/generic"
)

// Key is the provider key served by this adapter.
const Key = "ollama"

const tagsEndpoint = "/api/tags"

// localRateLimit applies when the configuration sets none; a local daemon
// does not need the remote default quota.
var localRateLimit = config.RateLimit{Requests: 50, WindowMs: 1000}

// visionFamilies are model families that accept images.
var visionFamilies = []string{"clip", "mllama", "llava", "gemma3", "qwen2.5vl"}

// Factory is the chat.Factory for Ollama.
func Factory(_ context.Context, provider config.ProviderConfig, known *config.KnownProviderOverride, deps chat.Dependencies) (ai.ChatProvider, error) {
	return New(provider, known, deps)
}

// New returns a generic adapter wired for Ollama.
func New(provider config.ProviderConfig, known *config.KnownProviderOverride, deps chat.Dependencies) (*generic.Provider, error) {
	if provider.RateLimit == nil {
		limit := localRateLimit
		provider.RateLimit = &limit
	}
	return generic.New(provider, known, deps,
		generic.WithoutCredential(),
		generic.WithDiscoverer(ListTags),
	)
}

// ListTags lists the locally pulled models. endpoint.BaseURL is the
// OpenAI-compatible base, so a trailing /v1 is dropped first.
func ListTags(ctx context.Context, endpoint ai.Endpoint) ([]ai.ModelInfo, error) {
	root := strings.TrimSuffix(strings.TrimRight(endpoint.BaseURL, "/"), "/v1")
	body, err := utils.DoGet(ctx, endpoint.HTTPClient(), root+tagsEndpoint, endpoint.APIKey,
		utils.HeadersFromMap(endpoint.Headers)...)
	if err != nil {
		return nil, err
	}

	var models []ai.ModelInfo
	gjson.GetBytes(body, "models").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("model").String()
		if id == "" {
			id = item.Get("name").String()
		}
		if id == "" {
			return true
		}
		models = append(models, ai.ModelInfo{
			ID:           id,
			Name:         item.Get("name").String(),
			Capabilities: ai.ModelCapabilities{ImageInput: isVision(item.Get("details"))},
		})
		return true
	})
	return models, nil
}

func isVision(details gjson.Result) bool {
	families := []string{details.Get("family").String()}
	details.Get("families").ForEach(func(_, family gjson.Result) bool {
		families = append(families, family.String())
		return true
	})
	for _, family := range families {
		for _, vision := range visionFamilies {
			if strings.EqualFold(family, vision) {
				return true
			}
		}
	}
	return false
}
