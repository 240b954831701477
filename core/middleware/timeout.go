package middleware

import (
	"context"
	"time"

	"github.com/leofalp/aimux/providers/ai"
)

// NewTimeout bounds the whole lifetime of a stream, not just the time to the
// first byte. The deadline's cancel runs when the stream ends, errors or is
// abandoned by the caller. A non-positive timeout disables the middleware.
//
// If the caller's context already has a shorter deadline, that one wins.
func NewTimeout(timeout time.Duration) Middleware {
	if timeout <= 0 {
		return nil
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			stream, err := next(ctx, request)
			if err != nil {
				cancel()
				return nil, err
			}
			return wrapStreamWithCancel(stream, cancel), nil
		}
	}
}

// wrapStreamWithCancel returns a stream whose iterator calls cancel once the
// stream finishes (done event), errors, or the caller breaks out of the loop.
func wrapStreamWithCancel(stream *ai.ChatStream, cancel context.CancelFunc) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer cancel()

		for event, err := range stream.Iter() {
			if !yield(event, err) {
				return
			}
			if err != nil || event.Type == ai.StreamEventDone {
				return
			}
		}
	})
}
