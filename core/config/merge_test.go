package config

import (
	"errors"
	"testing"

	"github.com/leofalp/aimux/providers/ai"
)

func TestMergeMaps(t *testing.T) {
	tests := []struct {
		name   string
		layers []map[string]any
		want   map[string]any
	}{
		{
			name:   "no layers",
			layers: nil,
			want:   nil,
		},
		{
			name: "later layer wins",
			layers: []map[string]any{
				{"a": 1, "b": 1},
				{"b": 2},
			},
			want: map[string]any{"a": 1, "b": 2},
		},
		{
			name: "nil removes key",
			layers: []map[string]any{
				{"X": "a"},
				{"X": "b"},
				{"X": nil},
			},
			want: nil,
		},
		{
			name: "nil then value restores key",
			layers: []map[string]any{
				{"X": "a"},
				{"X": nil},
				{"X": "c"},
			},
			want: map[string]any{"X": "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeMaps(tt.layers...)
			if len(got) != len(tt.want) {
				t.Fatalf("MergeMaps() = %v, want %v", got, tt.want)
			}
			for key, value := range tt.want {
				if got[key] != value {
					t.Errorf("MergeMaps()[%q] = %v, want %v", key, got[key], value)
				}
			}
			for key, value := range got {
				if value == nil {
					t.Errorf("MergeMaps() kept nil value for %q", key)
				}
			}
		})
	}
}

func TestApplyKnown_FillsDefaults(t *testing.T) {
	known, ok := Known("anthropic")
	if !ok {
		t.Fatal("anthropic must be a known provider")
	}

	provider := ApplyKnown(ProviderConfig{
		Key:    "anthropic",
		Models: []ModelConfig{{ID: "claude-sonnet"}},
	}, &known)

	if provider.DisplayName != "Anthropic" {
		t.Errorf("DisplayName = %q", provider.DisplayName)
	}
	if provider.SDKMode != SDKModeAnthropic {
		t.Errorf("SDKMode = %q, want anthropic", provider.SDKMode)
	}
	if provider.BaseURL != "https://api.anthropic.com/v1" {
		t.Errorf("BaseURL = %q", provider.BaseURL)
	}
	if provider.CustomHeader["anthropic-version"] != "2023-06-01" {
		t.Errorf("CustomHeader = %v", provider.CustomHeader)
	}
	if provider.Models[0].MaxInputTokens != DefaultMaxInputTokens || provider.Models[0].MaxOutputTokens != DefaultMaxOutputTokens {
		t.Errorf("model limits not defaulted: %+v", provider.Models[0])
	}
	if provider.Models[0].SDKMode != SDKModeAnthropic {
		t.Errorf("model SDKMode = %q", provider.Models[0].SDKMode)
	}
}

func TestApplyKnown_ProviderWins(t *testing.T) {
	known, _ := Known("openai")
	provider := ApplyKnown(ProviderConfig{
		Key:         "openai",
		DisplayName: "Work OpenAI",
		BaseURL:     "https://proxy.example.com/v1/",
		RateLimit:   &RateLimit{Requests: 5, WindowMs: 1000},
	}, &known)

	if provider.DisplayName != "Work OpenAI" {
		t.Errorf("DisplayName = %q", provider.DisplayName)
	}
	if provider.BaseURL != "https://proxy.example.com/v1" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", provider.BaseURL)
	}
	if provider.RateLimit.Requests != 5 {
		t.Errorf("RateLimit = %+v", provider.RateLimit)
	}
}

func TestApplyKnown_DoesNotAliasKnownTable(t *testing.T) {
	known, _ := Known("zhipu")
	provider := ApplyKnown(ProviderConfig{Key: "zhipu"}, &known)
	provider.RateLimit.Requests = 99

	again, _ := Known("zhipu")
	if again.RateLimit.Requests == 99 {
		t.Fatal("ApplyKnown shared the known rate limit pointer")
	}
}

func TestResolveModel_HeaderRemovedByModel(t *testing.T) {
	known := &KnownProviderOverride{
		Key:            "acme",
		BaseURLs:       map[SDKMode]string{SDKModeOpenAI: "https://acme.example.com/v1"},
		DefaultSDKMode: SDKModeOpenAI,
		CustomHeader:   map[string]any{"X": "a", "Keep": "known"},
	}
	provider := ApplyKnown(ProviderConfig{
		Key:          "acme",
		CustomHeader: map[string]any{"X": "b"},
		Models: []ModelConfig{
			{ID: "plain"},
			{ID: "no-x", CustomHeader: map[string]any{"X": nil}},
		},
	}, known)

	plain, err := ResolveModel(provider, known, "plain")
	if err != nil {
		t.Fatalf("ResolveModel(plain) error = %v", err)
	}
	if plain.Headers["X"] != "b" || plain.Headers["Keep"] != "known" {
		t.Errorf("plain headers = %v", plain.Headers)
	}

	noX, err := ResolveModel(provider, known, "no-x")
	if err != nil {
		t.Fatalf("ResolveModel(no-x) error = %v", err)
	}
	if _, ok := noX.Headers["X"]; ok {
		t.Errorf("header X should be excluded, got %v", noX.Headers)
	}
	if noX.Headers["Keep"] != "known" {
		t.Errorf("unrelated header lost: %v", noX.Headers)
	}
}

func TestResolveModel_ExtraBodyPrecedence(t *testing.T) {
	provider := ApplyKnown(ProviderConfig{
		Key:       "acme",
		BaseURL:   "https://acme.example.com/v1",
		ExtraBody: map[string]any{"thinking": "on", "seed": 1},
		Models: []ModelConfig{
			{ID: "m", ExtraBody: map[string]any{"seed": 2, "thinking": nil}},
		},
	}, nil)

	merged, err := ResolveModel(provider, nil, "m")
	if err != nil {
		t.Fatalf("ResolveModel() error = %v", err)
	}
	if merged.ExtraBody["seed"] != 2 {
		t.Errorf("seed = %v, want 2", merged.ExtraBody["seed"])
	}
	if _, ok := merged.ExtraBody["thinking"]; ok {
		t.Errorf("thinking should be removed: %v", merged.ExtraBody)
	}
}

func TestResolveModel_ModeSpecificBaseURL(t *testing.T) {
	known, _ := Known("deepseek")
	provider := ApplyKnown(ProviderConfig{
		Key: "deepseek",
		Models: []ModelConfig{
			{ID: "chat"},
			{ID: "chat-b", SDKMode: SDKModeAnthropic},
		},
	}, &known)

	chat, err := ResolveModel(provider, &known, "chat")
	if err != nil {
		t.Fatal(err)
	}
	if chat.SDKMode != SDKModeOpenAI || chat.BaseURL != "https://api.deepseek.com/v1" {
		t.Errorf("chat = %s %s", chat.SDKMode, chat.BaseURL)
	}

	chatB, err := ResolveModel(provider, &known, "chat-b")
	if err != nil {
		t.Fatal(err)
	}
	if chatB.SDKMode != SDKModeAnthropic || chatB.BaseURL != "https://api.deepseek.com/anthropic/v1" {
		t.Errorf("chat-b = %s %s", chatB.SDKMode, chatB.BaseURL)
	}
}

func TestResolveModel_Errors(t *testing.T) {
	provider := ApplyKnown(ProviderConfig{Key: "custom", Models: []ModelConfig{{ID: "m"}}}, nil)

	if _, err := ResolveModel(provider, nil, "missing"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("unknown model error = %v, want ErrUnknownModel", err)
	}
	if _, err := ResolveModel(provider, nil, "m"); !errors.Is(err, ai.ErrConfiguration) {
		t.Errorf("missing base URL error = %v, want ErrConfiguration", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ProviderConfig
		wantErr bool
	}{
		{name: "valid", config: ProviderConfig{Key: "p", Models: []ModelConfig{{ID: "a"}, {ID: "b"}}}},
		{name: "empty key", config: ProviderConfig{}, wantErr: true},
		{name: "bad mode", config: ProviderConfig{Key: "p", SDKMode: "gemini"}, wantErr: true},
		{name: "duplicate model", config: ProviderConfig{Key: "p", Models: []ModelConfig{{ID: "a"}, {ID: "a"}}}, wantErr: true},
		{name: "empty model id", config: ProviderConfig{Key: "p", Models: []ModelConfig{{}}}, wantErr: true},
		{name: "negative tokens", config: ProviderConfig{Key: "p", Models: []ModelConfig{{ID: "a", MaxInputTokens: -1}}}, wantErr: true},
		{name: "zero rate limit", config: ProviderConfig{Key: "p", RateLimit: &RateLimit{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ai.ErrConfiguration) {
				t.Errorf("Validate() error does not wrap ErrConfiguration: %v", err)
			}
		})
	}
}

func TestMergeCatalog(t *testing.T) {
	configured := []ModelConfig{{ID: "b", Name: "Bee"}, {ID: "a"}}
	discovered := []ModelConfig{{ID: "z"}, {ID: "b", Name: "vendor b"}, {ID: "c"}}

	got := MergeCatalog(configured, discovered)
	wantIDs := []string{"b", "a", "c", "z"}
	if len(got) != len(wantIDs) {
		t.Fatalf("MergeCatalog() = %+v", got)
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("MergeCatalog()[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
	if got[0].Name != "Bee" {
		t.Errorf("configured override lost: %+v", got[0])
	}

	if !SameCatalog(got, MergeCatalog(configured, discovered)) {
		t.Error("SameCatalog() = false for identical merges")
	}
	if SameCatalog(got, configured) {
		t.Error("SameCatalog() = true for different catalogs")
	}

	widened := MergeCatalog(configured, discovered)
	widened[len(widened)-1].MaxInputTokens = 200000
	if SameCatalog(got, widened) {
		t.Error("SameCatalog() = true for a changed token limit")
	}
}

func TestDisplayNameFromKey(t *testing.T) {
	tests := map[string]string{
		"openrouter":  "Openrouter",
		"my-provider": "My Provider",
		"local_llm":   "Local Llm",
	}
	for key, want := range tests {
		if got := displayNameFromKey(key); got != want {
			t.Errorf("displayNameFromKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestKnownKeys(t *testing.T) {
	keys := KnownKeys()
	found := false
	for i, key := range keys {
		if i > 0 && keys[i-1] > key {
			t.Fatalf("KnownKeys() not sorted: %v", keys)
		}
		if key == "compatible" {
			found = true
		}
	}
	if !found {
		t.Errorf("KnownKeys() missing compatible: %v", keys)
	}

	ollama, _ := Known("ollama")
	if !ollama.SpecializedFactory {
		t.Error("ollama should use a specialized factory")
	}
	groq, _ := Known("groq")
	if groq.DisplayName != "Groq" || groq.Description != "Groq API" {
		t.Errorf("groq backfill = %q / %q", groq.DisplayName, groq.Description)
	}
}
