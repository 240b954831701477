package middleware

import (
	"context"
	"time"

	"github.com/leofalp/aimux/core/ratelimit"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

// NewRateLimit throttles every attempt through limiter before calling next.
// Placed inside the retry middleware, each retry is throttled too. A nil
// limiter disables the middleware.
func NewRateLimit(limiter *ratelimit.Limiter, label string) Middleware {
	if limiter == nil {
		return nil
	}
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			start := time.Now()
			if err := limiter.Throttle(ctx, label); err != nil {
				return nil, err
			}

			if observer := observability.ObserverFromContext(ctx); observer != nil {
				observer.Histogram(observability.MetricRateLimitWait).Record(ctx, time.Since(start).Seconds(),
					observability.String(observability.AttrLimiterName, limiter.Name()),
				)
			}
			return next(ctx, request)
		}
	}
}
