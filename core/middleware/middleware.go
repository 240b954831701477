package middleware

import (
	"context"

	"github.com/leofalp/aimux/providers/ai"
)

// StreamFunc opens a streamed completion. It is the unit threaded through
// the chain; the innermost one calls the SDK-mode convention.
type StreamFunc func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error)

// Middleware wraps a StreamFunc and may wrap the returned stream to observe
// its events.
type Middleware func(next StreamFunc) StreamFunc

// Chain applies middlewares around final. The first middleware is the
// outermost: it runs first on the way in and last on the way out. Nil
// entries are skipped.
func Chain(final StreamFunc, middlewares ...Middleware) StreamFunc {
	chain := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			chain = middlewares[i](chain)
		}
	}
	return chain
}
