package middleware

import (
	"context"
	"time"

	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

// NewObservability wraps every stream in a span and records request, duration
// and token metrics once the stream ends. The span and observer are placed
// on the context so inner layers (HTTP helpers, the rate limiter) can add
// events to it. A nil observer disables the middleware.
func NewObservability(observer observability.Provider, providerKey string) Middleware {
	if observer == nil {
		return nil
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			attrs := []observability.Attribute{
				observability.String(observability.AttrProvider, providerKey),
				observability.String(observability.AttrModel, request.Model),
			}
			ctx, span := observer.StartSpan(ctx, observability.SpanChatCompletion, attrs...)
			ctx = observability.ContextWithSpan(ctx, span)
			ctx = observability.ContextWithObserver(ctx, observer)

			start := time.Now()
			stream, err := next(ctx, request)
			if err != nil {
				recordFailure(ctx, observer, span, err, attrs)
				return nil, err
			}

			return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
				var usage *ai.Usage
				var finishReason string

				for event, err := range stream.Iter() {
					if err != nil {
						recordFailure(ctx, observer, span, err, attrs)
						yield(event, err)
						return
					}
					if event.Type == ai.StreamEventUsage && event.Usage != nil {
						usage = event.Usage
					}
					if event.Type == ai.StreamEventDone {
						finishReason = event.FinishReason
					}
					if !yield(event, nil) {
						span.SetStatus(observability.StatusOK, "abandoned")
						span.End()
						return
					}
					if event.Type == ai.StreamEventDone {
						break
					}
				}

				observer.Histogram(observability.MetricRequestDuration).Record(ctx, time.Since(start).Seconds(), attrs...)
				observer.Counter(observability.MetricRequestCount).Add(ctx, 1,
					append(attrs, observability.String(observability.AttrStatus, "success"))...)
				if usage != nil {
					observer.Counter(observability.MetricTokensTotal).Add(ctx, int64(usage.TotalTokens), attrs...)
					span.SetAttributes(
						observability.Int(observability.AttrTokensPrompt, usage.PromptTokens),
						observability.Int(observability.AttrTokensCompletion, usage.CompletionTokens),
						observability.Int(observability.AttrTokensTotal, usage.TotalTokens),
					)
				}
				if finishReason != "" {
					span.SetAttributes(observability.String(observability.AttrFinishReason, finishReason))
				}
				span.SetStatus(observability.StatusOK, "success")
				span.End()
			}), nil
		}
	}
}

func recordFailure(ctx context.Context, observer observability.Provider, span observability.Span, err error, attrs []observability.Attribute) {
	span.RecordError(err)
	span.SetAttributes(observability.String(observability.AttrErrorKind, ai.Classify(err).String()))
	span.SetStatus(observability.StatusError, "chat completion failed")
	span.End()

	observer.Counter(observability.MetricRequestCount).Add(ctx, 1,
		append(attrs[:len(attrs):len(attrs)], observability.String(observability.AttrStatus, "error"))...)
}
