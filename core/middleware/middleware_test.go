package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leofalp/aimux/core/ratelimit"
	"github.com/leofalp/aimux/core/retry"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
	"github.com/leofalp/aimux/providers/observability/slogobs"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// streamOf returns a StreamFunc yielding content, usage and done events.
func streamOf(content string) StreamFunc {
	return func(ctx context.Context, _ ai.ChatRequest) (*ai.ChatStream, error) {
		return ai.NewSingleEventStream(&ai.ChatResponse{
			Content:      content,
			FinishReason: "stop",
			Usage:        &ai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}), nil
	}
}

// failingStream opens successfully but errors after one event.
func failingStream(calls *int) StreamFunc {
	return func(ctx context.Context, _ ai.ChatRequest) (*ai.ChatStream, error) {
		*calls++
		return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
			if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: "partial"}, nil) {
				return
			}
			yield(ai.StreamEvent{}, &ai.HTTPError{StatusCode: http.StatusBadGateway})
		}), nil
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next StreamFunc) StreamFunc {
			return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
				order = append(order, name)
				return next(ctx, request)
			}
		}
	}

	chain := Chain(streamOf("x"), tag("outer"), nil, tag("middle"), tag("inner"))
	if _, err := chain(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "outer,middle,inner" {
		t.Errorf("order = %v", order)
	}
}

func TestRetry_RetriesEstablishmentOnly(t *testing.T) {
	var delays []time.Duration
	executor := retry.New(retry.Config{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond},
		retry.WithLogger(discardLogger),
		retry.WithSleep(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	attempts := 0
	flaky := func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		attempts++
		if attempts <= 2 {
			return nil, &ai.HTTPError{StatusCode: http.StatusTooManyRequests}
		}
		return streamOf("ok")(ctx, request)
	}

	chain := Chain(flaky, NewRetry(executor, nil, "test"))
	stream, err := chain(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatalf("chain error = %v", err)
	}
	response, err := stream.Collect()
	if err != nil || response.Content != "ok" {
		t.Fatalf("Collect() = %+v, %v", response, err)
	}
	if attempts != 3 || len(delays) != 2 {
		t.Errorf("attempts = %d, delays = %v", attempts, delays)
	}

	calls := 0
	chain = Chain(failingStream(&calls), NewRetry(executor, nil, "test"))
	stream, err = chain(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	response, err = stream.Collect()
	if err == nil || response.Content != "partial" {
		t.Fatalf("mid-stream error not surfaced: %+v, %v", response, err)
	}
	if calls != 1 {
		t.Errorf("mid-stream error triggered %d calls, want 1", calls)
	}
}

func TestRetry_TerminalNotRetried(t *testing.T) {
	executor := retry.New(retry.Config{MaxAttempts: 3}, retry.WithLogger(discardLogger),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))

	attempts := 0
	chain := Chain(func(context.Context, ai.ChatRequest) (*ai.ChatStream, error) {
		attempts++
		return nil, &ai.HTTPError{StatusCode: http.StatusUnauthorized}
	}, NewRetry(executor, nil, "test"))

	_, err := chain(context.Background(), ai.ChatRequest{})
	var httpErr *ai.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRateLimit_ThrottlesEachAttempt(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var waits []time.Duration
	registry := ratelimit.NewRegistry(
		ratelimit.WithLogger(discardLogger),
		ratelimit.WithClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
		ratelimit.WithSleep(func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			waits = append(waits, d)
			now = now.Add(d)
			return nil
		}),
	)
	limiter := registry.Get("acme", 1, time.Second)

	executor := retry.New(retry.Config{MaxAttempts: 2}, retry.WithLogger(discardLogger),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))

	attempts := 0
	chain := Chain(func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		attempts++
		if attempts == 1 {
			return nil, &ai.HTTPError{StatusCode: http.StatusServiceUnavailable}
		}
		return streamOf("ok")(ctx, request)
	}, NewRetry(executor, nil, "acme"), NewRateLimit(limiter, "acme"))

	if _, err := chain(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Errorf("waits = %v, want one full window", waits)
	}
}

func TestRateLimit_Canceled(t *testing.T) {
	registry := ratelimit.NewRegistry(ratelimit.WithLogger(discardLogger))
	limiter := registry.Get("busy", 1, time.Hour)
	if err := limiter.Throttle(context.Background(), "fill"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	chain := Chain(func(context.Context, ai.ChatRequest) (*ai.ChatStream, error) {
		called = true
		return nil, nil
	}, NewRateLimit(limiter, "busy"))

	if _, err := chain(ctx, ai.ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("next called after throttle was canceled")
	}
}

func TestTimeout_CoversStreamLifetime(t *testing.T) {
	var streamCtx context.Context
	slow := func(ctx context.Context, _ ai.ChatRequest) (*ai.ChatStream, error) {
		streamCtx = ctx
		return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
			select {
			case <-time.After(time.Second):
				yield(ai.StreamEvent{Type: ai.StreamEventDone}, nil)
			case <-ctx.Done():
				yield(ai.StreamEvent{}, ctx.Err())
			}
		}), nil
	}

	stream, err := Chain(slow, NewTimeout(20*time.Millisecond))(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatalf("opening the stream should not time out: %v", err)
	}
	if _, err := stream.Collect(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Collect() error = %v, want DeadlineExceeded", err)
	}
	if streamCtx.Err() == nil {
		t.Error("stream context not canceled after the stream ended")
	}
}

func TestTimeout_CanceledAfterDone(t *testing.T) {
	var streamCtx context.Context
	fast := func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		streamCtx = ctx
		return streamOf("hi")(ctx, request)
	}

	stream, err := Chain(fast, NewTimeout(time.Minute))(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Collect(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(streamCtx.Err(), context.Canceled) {
		t.Errorf("context error = %v, want Canceled once drained", streamCtx.Err())
	}

	if NewTimeout(0) != nil {
		t.Error("NewTimeout(0) should disable the middleware")
	}
}

func TestLogging_CompletedAndFailed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	stream, err := Chain(streamOf("hello"), NewLogging(logger, LogLevelVerbose, "openai"))(
		context.Background(),
		ai.ChatRequest{Model: "gpt-4o", Messages: []ai.Message{{Role: ai.RoleUser, Content: "hi"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Collect(); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"llm stream"`, `"msg":"llm stream completed"`, `"aimux.provider":"openai"`, `"llm.tokens.total":5`, `"response_content":"hello"`, `"llm.finish_reason":"stop"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}

	buf.Reset()
	_, err = Chain(func(context.Context, ai.ChatRequest) (*ai.ChatStream, error) {
		return nil, &ai.HTTPError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	}, NewLogging(logger, LogLevelMinimal, "openai"))(context.Background(), ai.ChatRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), `"error.kind":"TransientBackendError"`) {
		t.Errorf("failure log = %s", buf.String())
	}
}

func TestObservability_RecordsMetrics(t *testing.T) {
	observer := slogobs.New(slogobs.WithOutput(io.Discard))

	var sawSpan bool
	inner := func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		sawSpan = observability.SpanFromContext(ctx) != nil && observability.ObserverFromContext(ctx) != nil
		return streamOf("ok")(ctx, request)
	}

	stream, err := Chain(inner, NewObservability(observer, "openai"))(context.Background(), ai.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := stream.Collect(); err != nil {
		t.Fatal(err)
	}
	if !sawSpan {
		t.Error("span and observer not propagated to inner layers")
	}
	if got := observer.CounterValue(observability.MetricRequestCount); got != 1 {
		t.Errorf("request count = %d", got)
	}
	if got := observer.CounterValue(observability.MetricTokensTotal); got != 5 {
		t.Errorf("token count = %d", got)
	}

	calls := 0
	stream, err = Chain(failingStream(&calls), NewObservability(observer, "openai"))(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = stream.Collect()
	if got := observer.CounterValue(observability.MetricRequestCount); got != 2 {
		t.Errorf("request count after failure = %d", got)
	}

	if NewObservability(nil, "x") != nil {
		t.Error("nil observer should disable the middleware")
	}
}
