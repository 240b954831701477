package config

import (
	"maps"
	"sort"
	"sync"
)

// KnownProviderOverride is compiled-in metadata for a provider key.
type KnownProviderOverride struct {
	Key         string
	DisplayName string
	Description string
	// BaseURLs holds the endpoint per SDK mode; vendors that speak both
	// conventions expose them under different paths.
	BaseURLs       map[SDKMode]string
	DefaultSDKMode SDKMode
	APIKeyTemplate string
	// SpecializedFactory marks providers served by a bespoke adapter.
	SpecializedFactory bool
	CustomHeader       map[string]any
	ExtraBody          map[string]any
	RateLimit          *RateLimit
	DiscoveryRateLimit *RateLimit
}

// knownProviders is the static table. DisplayName and Description may be
// left empty; they are backfilled on first use.
var knownProviders = []KnownProviderOverride{
	{
		Key:         "openai",
		DisplayName: "OpenAI",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://api.openai.com/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${OPENAI_API_KEY}",
		RateLimit:      &RateLimit{Requests: 60, WindowMs: 60_000},
	},
	{
		Key:         "anthropic",
		DisplayName: "Anthropic",
		BaseURLs: map[SDKMode]string{
			SDKModeAnthropic: "https://api.anthropic.com/v1",
		},
		DefaultSDKMode: SDKModeAnthropic,
		APIKeyTemplate: "${ANTHROPIC_API_KEY}",
		CustomHeader:   map[string]any{"anthropic-version": "2023-06-01"},
		RateLimit:      &RateLimit{Requests: 50, WindowMs: 60_000},
	},
	{
		Key:         "deepseek",
		DisplayName: "DeepSeek",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI:    "https://api.deepseek.com/v1",
			SDKModeAnthropic: "https://api.deepseek.com/anthropic/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${DEEPSEEK_API_KEY}",
	},
	{
		Key:         "moonshot",
		DisplayName: "Moonshot AI",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI:    "https://api.moonshot.ai/v1",
			SDKModeAnthropic: "https://api.moonshot.ai/anthropic/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${MOONSHOT_API_KEY}",
	},
	{
		Key:         "zhipu",
		DisplayName: "Zhipu AI",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI:    "https://open.bigmodel.cn/api/paas/v4",
			SDKModeAnthropic: "https://open.bigmodel.cn/api/anthropic/v1",
		},
		DefaultSDKMode:     SDKModeOpenAI,
		APIKeyTemplate:     "${ZHIPU_API_KEY}",
		RateLimit:          &RateLimit{Requests: 2, WindowMs: 1000},
		DiscoveryRateLimit: &RateLimit{Requests: 1, WindowMs: 5000},
	},
	{
		Key: "openrouter",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://openrouter.ai/api/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${OPENROUTER_API_KEY}",
		CustomHeader:   map[string]any{"X-Title": "aimux"},
	},
	{
		Key:         "siliconflow",
		DisplayName: "SiliconFlow",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://api.siliconflow.cn/v1",
		},
		DefaultSDKMode:     SDKModeOpenAI,
		APIKeyTemplate:     "${SILICONFLOW_API_KEY}",
		DiscoveryRateLimit: &RateLimit{Requests: 1, WindowMs: 2000},
	},
	{
		Key: "groq",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://api.groq.com/openai/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${GROQ_API_KEY}",
		RateLimit:      &RateLimit{Requests: 30, WindowMs: 60_000},
	},
	{
		Key:         "gemini",
		DisplayName: "Gemini",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://generativelanguage.googleapis.com/v1beta/openai",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${GEMINI_API_KEY}",
	},
	{
		Key: "mistral",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "https://api.mistral.ai/v1",
		},
		DefaultSDKMode: SDKModeOpenAI,
		APIKeyTemplate: "${MISTRAL_API_KEY}",
	},
	{
		Key:         "ollama",
		DisplayName: "Ollama",
		Description: "Local models served by Ollama",
		BaseURLs: map[SDKMode]string{
			SDKModeOpenAI: "http://localhost:11434/v1",
		},
		DefaultSDKMode:     SDKModeOpenAI,
		SpecializedFactory: true,
	},
	{
		// Generic OpenAI-compatible endpoint; the base URL always comes from
		// the user's configuration.
		Key:            "compatible",
		DisplayName:    "OpenAI Compatible",
		DefaultSDKMode: SDKModeOpenAI,
	},
}

var (
	knownOnce  sync.Once
	knownIndex map[string]KnownProviderOverride
)

// loadKnown backfills derived fields once and indexes the table.
func loadKnown() map[string]KnownProviderOverride {
	knownOnce.Do(func() {
		knownIndex = make(map[string]KnownProviderOverride, len(knownProviders))
		for _, entry := range knownProviders {
			if entry.DisplayName == "" {
				entry.DisplayName = displayNameFromKey(entry.Key)
			}
			if entry.Description == "" {
				entry.Description = entry.DisplayName + " API"
			}
			if entry.DefaultSDKMode == "" {
				entry.DefaultSDKMode = SDKModeOpenAI
			}
			knownIndex[entry.Key] = entry
		}
	})
	return knownIndex
}

// Known returns a copy of the known entry for key.
func Known(key string) (KnownProviderOverride, bool) {
	entry, ok := loadKnown()[key]
	if !ok {
		return KnownProviderOverride{}, false
	}
	entry.BaseURLs = maps.Clone(entry.BaseURLs)
	entry.CustomHeader = maps.Clone(entry.CustomHeader)
	entry.ExtraBody = maps.Clone(entry.ExtraBody)
	return entry, true
}

// KnownKeys lists every known provider key, sorted.
func KnownKeys() []string {
	index := loadKnown()
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
