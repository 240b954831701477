package anthropic

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
)

// defaultContextWindow applies when the catalog omits limits, which the
// first-party endpoint does.
const defaultContextWindow = 200000

// ListModels reads GET <base>/models. Every model of this convention takes
// tools and images.
func (c *Convention) ListModels(ctx context.Context, endpoint ai.Endpoint) ([]ai.ModelInfo, error) {
	body, err := utils.DoGet(ctx, endpoint.HTTPClient(), endpoint.BaseURL+modelsEndpoint, "", buildHeaders(endpoint)...)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, fmt.Errorf("model list response has no data array: %s", utils.TruncateString(string(body), 200))
	}

	var models []ai.ModelInfo
	data.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		name := item.Get("display_name").String()
		if name == "" {
			name = id
		}
		maxInput := int(item.Get("max_input_tokens").Int())
		if maxInput == 0 {
			maxInput = defaultContextWindow
		}
		models = append(models, ai.ModelInfo{
			ID:              id,
			Name:            name,
			MaxInputTokens:  maxInput,
			MaxOutputTokens: int(item.Get("max_tokens").Int()),
			Capabilities:    ai.ModelCapabilities{ToolCalling: true, ImageInput: true},
		})
		return true
	})
	return models, nil
}
