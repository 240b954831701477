package generic

import (
	"context"
	"errors"
	"fmt"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/core/middleware"
	"github.com/leofalp/aimux/core/tokens"
	"github.com/leofalp/aimux/providers/ai"
)

// ChatCompletion opens a stream against model. Failures before the first
// event are returned as *ai.Error; failures during iteration are yielded as
// *ai.Error too. A successfully opened stream records model as the last
// selection.
func (p *Provider) ChatCompletion(ctx context.Context, model string, messages []ai.Message, options ai.ChatOptions) (*ai.ChatStream, error) {
	provider := p.snapshot()

	merged, err := config.ResolveModel(provider, p.known, model)
	if err != nil {
		kind := ai.KindConfiguration
		if errors.Is(err, config.ErrUnknownModel) {
			kind = ai.KindTerminalBackend
		}
		return nil, ai.NewError(kind, provider.DisplayName, model, err)
	}

	convention, ok := p.deps.Conventions[merged.SDKMode]
	if !ok {
		return nil, ai.NewError(ai.KindConfiguration, provider.DisplayName, model,
			fmt.Errorf("no convention for sdkMode %q", merged.SDKMode))
	}

	key, err := p.credential(ctx, false)
	if err != nil {
		return nil, ai.NewError(ai.KindCredentialMissing, provider.DisplayName, model, err)
	}

	endpoint := ai.Endpoint{
		BaseURL:   merged.BaseURL,
		APIKey:    key,
		Headers:   merged.Headers,
		ExtraBody: merged.ExtraBody,
		Client:    p.deps.HTTPClient,
	}
	final := func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		return convention.StreamChat(ctx, endpoint, request)
	}

	label := provider.Key + " " + model
	stream := middleware.Chain(final,
		middleware.NewObservability(p.deps.Observer, provider.Key),
		middleware.NewLogging(p.logger, p.deps.LogLevel, provider.Key),
		middleware.NewTimeout(p.deps.Timeout),
		middleware.NewRetry(p.deps.Retry, ai.IsTransient, label),
		middleware.NewRateLimit(p.limiter(false), label),
	)

	response, err := stream(ctx, buildRequest(merged, messages, options))
	if err != nil {
		return nil, ai.NewError(ai.Classify(err), provider.DisplayName, model, err)
	}

	if p.deps.Cache != nil {
		p.deps.Cache.SaveLastSelectedModel(ctx, provider.Key, model)
	}
	return typedErrors(response, provider.DisplayName, model), nil
}

// TokenCount counts text with the shared tokenizer. The count does not
// depend on the model.
func (p *Provider) TokenCount(_ context.Context, _ string, text string) (int, error) {
	if p.deps.Tokens != nil {
		return p.deps.Tokens.Count(text), nil
	}
	return tokens.Count(text), nil
}

// buildRequest maps the caller's input onto the merged model. Images and
// tools are only forwarded to models that declare support for them.
func buildRequest(merged config.MergedConfig, messages []ai.Message, options ai.ChatOptions) ai.ChatRequest {
	request := ai.ChatRequest{
		Model:        merged.Model.UpstreamModel(),
		SystemPrompt: options.SystemPrompt,
		Messages:     messages,
	}

	if !merged.Model.Capabilities.ImageInput {
		request.Messages = make([]ai.Message, len(messages))
		for i, message := range messages {
			message.Images = nil
			request.Messages[i] = message
		}
	}
	if merged.Model.Capabilities.ToolCalling {
		request.Tools = options.Tools
	}

	maxTokens := options.MaxTokens
	if maxTokens <= 0 || (merged.Model.MaxOutputTokens > 0 && maxTokens > merged.Model.MaxOutputTokens) {
		maxTokens = merged.Model.MaxOutputTokens
	}
	if maxTokens > 0 || options.Temperature > 0 {
		request.GenerationConfig = &ai.GenerationConfig{MaxTokens: maxTokens, Temperature: options.Temperature}
	}
	return request
}

func typedErrors(stream *ai.ChatStream, providerName, model string) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		for event, err := range stream.Iter() {
			if err != nil {
				yield(event, ai.NewError(ai.Classify(err), providerName, model, err))
				return
			}
			if !yield(event, nil) {
				return
			}
		}
	})
}
