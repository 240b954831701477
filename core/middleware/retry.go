package middleware

import (
	"context"

	"github.com/leofalp/aimux/core/retry"
	"github.com/leofalp/aimux/providers/ai"
)

// NewRetry retries opening the stream with executor. Only establishment is
// retried: once events flow, a mid-stream error is yielded to the caller
// because the partial output has already been seen. A nil isRetryable uses
// ai.IsTransient.
func NewRetry(executor *retry.Executor, isRetryable func(error) bool, label string) Middleware {
	if executor == nil {
		return nil
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			return retry.Do(ctx, executor, func(ctx context.Context) (*ai.ChatStream, error) {
				return next(ctx, request)
			}, isRetryable, label)
		}
	}
}
