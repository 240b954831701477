package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

// LogLevel controls how much detail the logging middleware emits per request.
type LogLevel int

const (
	// LogLevelMinimal logs the model, duration and token counts.
	LogLevelMinimal LogLevel = iota

	// LogLevelStandard adds the message count and finish reason.
	LogLevelStandard

	// LogLevelVerbose adds the first message and the streamed content, each
	// truncated. It logs prompt text and must not be used in production.
	LogLevelVerbose
)

// truncateLen is the maximum content length included in verbose log output.
const truncateLen = 500

// NewLogging logs the start of every stream and, once the iterator is
// drained, its outcome. A nil logger uses slog.Default().
func NewLogging(logger *slog.Logger, level LogLevel, providerKey string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			logger.InfoContext(ctx, "llm stream", buildRequestAttrs(providerKey, request, level)...)

			start := time.Now()
			stream, err := next(ctx, request)
			if err != nil {
				logger.ErrorContext(ctx, "llm stream failed",
					slog.String(observability.AttrProvider, providerKey),
					slog.String(observability.AttrModel, request.Model),
					slog.Duration(observability.AttrDuration, time.Since(start)),
					slog.String(observability.AttrErrorKind, ai.Classify(err).String()),
					slog.String(observability.AttrError, err.Error()),
				)
				return nil, err
			}
			return wrapStreamWithLogging(ctx, stream, logger, providerKey, request.Model, level, start), nil
		}
	}
}

func wrapStreamWithLogging(
	ctx context.Context,
	stream *ai.ChatStream,
	logger *slog.Logger,
	providerKey string,
	model string,
	level LogLevel,
	start time.Time,
) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		var finishReason string
		var usage *ai.Usage
		var content []byte

		for event, err := range stream.Iter() {
			if err != nil {
				logger.ErrorContext(ctx, "llm stream failed mid-stream",
					slog.String(observability.AttrProvider, providerKey),
					slog.String(observability.AttrModel, model),
					slog.Duration(observability.AttrDuration, time.Since(start)),
					slog.String(observability.AttrError, err.Error()),
				)
				yield(event, err)
				return
			}

			switch event.Type {
			case ai.StreamEventUsage:
				if event.Usage != nil {
					usage = event.Usage
				}
			case ai.StreamEventDone:
				finishReason = event.FinishReason
			case ai.StreamEventContent:
				if level >= LogLevelVerbose && len(content) < truncateLen*2 {
					content = append(content, event.Content...)
				}
			}

			if !yield(event, nil) {
				logger.InfoContext(ctx, "llm stream abandoned",
					slog.String(observability.AttrProvider, providerKey),
					slog.String(observability.AttrModel, model),
					slog.Duration(observability.AttrDuration, time.Since(start)),
				)
				return
			}
			if event.Type == ai.StreamEventDone {
				break
			}
		}

		attrs := []any{
			slog.String(observability.AttrProvider, providerKey),
			slog.String(observability.AttrModel, model),
			slog.Duration(observability.AttrDuration, time.Since(start)),
		}
		if level >= LogLevelStandard && finishReason != "" {
			attrs = append(attrs, slog.String(observability.AttrFinishReason, finishReason))
		}
		if usage != nil {
			attrs = append(attrs,
				slog.Int(observability.AttrTokensPrompt, usage.PromptTokens),
				slog.Int(observability.AttrTokensCompletion, usage.CompletionTokens),
				slog.Int(observability.AttrTokensTotal, usage.TotalTokens),
			)
		}
		if level >= LogLevelVerbose && len(content) > 0 {
			attrs = append(attrs, slog.String("response_content", utils.TruncateString(string(content), truncateLen)))
		}
		logger.InfoContext(ctx, "llm stream completed", attrs...)
	})
}

func buildRequestAttrs(providerKey string, request ai.ChatRequest, level LogLevel) []any {
	attrs := []any{
		slog.String(observability.AttrProvider, providerKey),
		slog.String(observability.AttrModel, request.Model),
	}

	if level >= LogLevelStandard {
		attrs = append(attrs, slog.Int("message_count", len(request.Messages)))
	}

	if level >= LogLevelVerbose && len(request.Messages) > 0 {
		first := request.Messages[0]
		attrs = append(attrs,
			slog.String("first_message_role", string(first.Role)),
			slog.String("first_message_content", utils.TruncateString(first.Content, truncateLen)),
		)
	}
	return attrs
}
