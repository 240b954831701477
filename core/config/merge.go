package config

import (
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/leofalp/aimux/providers/ai"
)

// MergeMaps merges layers left to right: later layers win on key
// collisions, and a nil value removes the key from the result. The result
// never contains nil values and is nil when empty.
func MergeMaps(layers ...map[string]any) map[string]any {
	var merged map[string]any
	for _, layer := range layers {
		for key, value := range layer {
			if value == nil {
				delete(merged, key)
				continue
			}
			if merged == nil {
				merged = make(map[string]any)
			}
			merged[key] = value
		}
	}
	return merged
}

// ApplyKnown layers provider over its known defaults. Scalars fall back to
// the known entry when unset; header and body maps are merged with the
// provider winning. A nil known entry only normalizes.
func ApplyKnown(provider ProviderConfig, known *KnownProviderOverride) ProviderConfig {
	if known != nil {
		if provider.DisplayName == "" {
			provider.DisplayName = known.DisplayName
		}
		if provider.SDKMode == "" {
			provider.SDKMode = known.DefaultSDKMode
		}
		if provider.BaseURL == "" {
			provider.BaseURL = known.BaseURLs[provider.SDKMode]
		}
		if provider.APIKeyTemplate == "" {
			provider.APIKeyTemplate = known.APIKeyTemplate
		}
		if provider.RateLimit == nil && known.RateLimit != nil {
			limit := *known.RateLimit
			provider.RateLimit = &limit
		}
		if provider.DiscoveryRateLimit == nil && known.DiscoveryRateLimit != nil {
			limit := *known.DiscoveryRateLimit
			provider.DiscoveryRateLimit = &limit
		}
		provider.CustomHeader = MergeMaps(known.CustomHeader, provider.CustomHeader)
		provider.ExtraBody = MergeMaps(known.ExtraBody, provider.ExtraBody)
	}
	return provider.Normalize()
}

// MergedConfig is everything needed to call one model of one provider.
type MergedConfig struct {
	ProviderKey  string
	ProviderName string
	Model        ModelConfig
	SDKMode      SDKMode
	BaseURL      string
	Headers      map[string]string
	ExtraBody    map[string]any
}

// ResolveModel merges model-level overrides over an ApplyKnown'd provider.
// The precedence is model > provider > known default. known is consulted
// for the base URL when the model's SDK mode differs from the provider's.
func ResolveModel(provider ProviderConfig, known *KnownProviderOverride, modelID string) (MergedConfig, error) {
	model, ok := provider.FindModel(modelID)
	if !ok {
		return MergedConfig{}, fmt.Errorf("%w %q for provider %q", ErrUnknownModel, modelID, provider.Key)
	}

	mode := model.SDKMode
	if mode == "" {
		mode = provider.SDKMode
	}

	baseURL := model.BaseURL
	if baseURL == "" && mode != provider.SDKMode && known != nil {
		baseURL = known.BaseURLs[mode]
	}
	if baseURL == "" {
		baseURL = provider.BaseURL
	}
	if baseURL == "" {
		return MergedConfig{}, fmt.Errorf("%w: provider %q model %q has no base URL", ai.ErrConfiguration, provider.Key, modelID)
	}

	return MergedConfig{
		ProviderKey:  provider.Key,
		ProviderName: provider.DisplayName,
		Model:        model,
		SDKMode:      mode,
		BaseURL:      baseURL,
		Headers:      StringMap(MergeMaps(provider.CustomHeader, model.CustomHeader)),
		ExtraBody:    MergeMaps(provider.ExtraBody, model.ExtraBody),
	}, nil
}

// StringMap renders merged header values as strings.
func StringMap(values map[string]any) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		if s, ok := value.(string); ok {
			out[key] = s
			continue
		}
		out[key] = fmt.Sprint(value)
	}
	return out
}

// ModelInfo converts a catalog entry into what the host displays.
func (m ModelConfig) ModelInfo(provider ProviderConfig) ai.ModelInfo {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return ai.ModelInfo{
		ID:              m.ID,
		Name:            name,
		Provider:        provider.Key,
		ProviderName:    provider.DisplayName,
		MaxInputTokens:  m.MaxInputTokens,
		MaxOutputTokens: m.MaxOutputTokens,
		Capabilities: ai.ModelCapabilities{
			ToolCalling: m.Capabilities.ToolCalling,
			ImageInput:  m.Capabilities.ImageInput,
		},
	}
}

// MergeCatalog overlays discovered models on the configured ones.
// Configured entries keep their overrides and position; discovered ids that
// are not configured are appended sorted by id.
func MergeCatalog(configured []ModelConfig, discovered []ModelConfig) []ModelConfig {
	merged := make([]ModelConfig, 0, len(configured)+len(discovered))
	seen := make(map[string]bool, len(configured)+len(discovered))
	for _, model := range configured {
		seen[model.ID] = true
		merged = append(merged, model)
	}

	var added []ModelConfig
	for _, model := range discovered {
		if seen[model.ID] {
			continue
		}
		seen[model.ID] = true
		added = append(added, model)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	return append(merged, added...)
}

// SameCatalog reports whether a and b hold equal models in the same order.
// Pass normalized catalogs: a default filled in on one side only counts as
// a difference.
func SameCatalog(a, b []ModelConfig) bool {
	return slices.EqualFunc(a, b, func(x, y ModelConfig) bool {
		return reflect.DeepEqual(x, y)
	})
}
