package openai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
)

// Discovery payloads differ between vendors; each list holds the paths tried
// in order for one field.
var (
	contextPaths = []string{
		"context_length", "context_window", "max_context_length", "max_model_len",
		"max_input_tokens", "top_provider.context_length",
	}
	outputPaths = []string{
		"max_completion_tokens", "max_output_tokens", "max_tokens",
		"top_provider.max_completion_tokens",
	}
)

// ListModels reads GET <base>/models. The OpenAI shape {"data": [...]} is
// expected, but a bare array or {"models": [...]} is accepted too, and a
// malformed body is run through jsonrepair before giving up.
func (c *Convention) ListModels(ctx context.Context, endpoint ai.Endpoint) ([]ai.ModelInfo, error) {
	body, err := utils.DoGet(ctx, endpoint.HTTPClient(), endpoint.BaseURL+modelsEndpoint,
		endpoint.APIKey, utils.HeadersFromMap(endpoint.Headers)...)
	if err != nil {
		return nil, err
	}
	return ParseModelList(body)
}

// ParseModelList extracts models from a discovery response body. Entries
// without an id are skipped; the result is sorted by id.
func ParseModelList(body []byte) ([]ai.ModelInfo, error) {
	payload := string(body)
	if !gjson.Valid(payload) {
		repaired, err := jsonrepair.JSONRepair(payload)
		if err != nil || !gjson.Valid(repaired) {
			return nil, fmt.Errorf("invalid model list response: %s", utils.TruncateString(payload, 200))
		}
		payload = repaired
	}

	root := gjson.Parse(payload)
	list := root
	switch {
	case root.IsArray():
	case root.Get("data").IsArray():
		list = root.Get("data")
	case root.Get("models").IsArray():
		list = root.Get("models")
	default:
		return nil, fmt.Errorf("model list response has no data array")
	}

	seen := make(map[string]bool)
	var models []ai.ModelInfo
	list.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			id = item.Get("name").String()
		}
		if id == "" && item.Type == gjson.String {
			id = item.String()
		}
		if id == "" || seen[id] {
			return true
		}
		seen[id] = true

		name := item.Get("display_name").String()
		if name == "" {
			name = id
		}
		models = append(models, ai.ModelInfo{
			ID:              id,
			Name:            name,
			MaxInputTokens:  firstInt(item, contextPaths),
			MaxOutputTokens: firstInt(item, outputPaths),
			Capabilities: ai.ModelCapabilities{
				ToolCalling: supportsTools(item),
				ImageInput:  supportsImages(item),
			},
		})
		return true
	})

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func firstInt(item gjson.Result, paths []string) int {
	for _, path := range paths {
		if value := item.Get(path); value.Exists() && value.Int() > 0 {
			return int(value.Int())
		}
	}
	return 0
}

func supportsTools(item gjson.Result) bool {
	if item.Get("capabilities.function_calling").Bool() || item.Get("capabilities.tool_calling").Bool() {
		return true
	}
	return containsString(item.Get("supported_parameters"), "tools")
}

func supportsImages(item gjson.Result) bool {
	if item.Get("capabilities.vision").Bool() {
		return true
	}
	return containsString(item.Get("architecture.input_modalities"), "image")
}

func containsString(list gjson.Result, want string) bool {
	found := false
	list.ForEach(func(_, value gjson.Result) bool {
		if strings.EqualFold(value.String(), want) {
			found = true
			return false
		}
		return true
	})
	return found
}
