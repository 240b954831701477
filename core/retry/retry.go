package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/leofalp/aimux/providers/ai"
)

// ErrRetryExhausted is wrapped, together with the last attempt's error, when
// every attempt failed with a retryable error.
var ErrRetryExhausted = errors.New("aimux: all retry attempts exhausted")

// jitterFraction bounds the random perturbation applied to each delay.
const jitterFraction = 0.1

// Config tunes an Executor. Zero numeric fields fall back to DefaultConfig's.
type Config struct {
	// MaxAttempts counts the first call, so 3 means at most two retries.
	MaxAttempts int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps every delay, jitter included.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay: InitialDelay * BackoffMultiplier^(attempt-1).
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to +/-10%.
	Jitter bool
	// DetectRateLimit makes rate-limit errors retryable whatever the
	// caller's predicate says.
	DetectRateLimit bool
}

// DefaultConfig returns 3 attempts, 1s initial delay, 30s cap, factor 2 and
// jitter on.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		DetectRateLimit:   true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return c
}

// Attempt describes a scheduled retry, as reported to WithOnRetry hooks.
type Attempt struct {
	Label       string
	Number      int // the attempt that just failed, starting at 1
	Delay       time.Duration
	Err         error
	RateLimited bool
}

// Executor runs operations with bounded retry and exponential backoff. It
// keeps no state between calls and is safe for concurrent use.
type Executor struct {
	config  Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	random  func() float64
	onRetry func(Attempt)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger intermediate failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithOnRetry registers a hook called before every backoff sleep.
func WithOnRetry(hook func(Attempt)) Option {
	return func(e *Executor) {
		e.onRetry = hook
	}
}

// WithSleep replaces the context-aware sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithRandom replaces the jitter source; it must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(e *Executor) {
		e.random = random
	}
}

// New returns an Executor for config.
func New(config Config, opts ...Option) *Executor {
	executor := &Executor{
		config: config.withDefaults(),
		logger: slog.Default(),
		sleep:  sleepContext,
		random: rand.Float64, //nolint:gosec // jitter does not need a CSPRNG
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. A nil isRetryable uses ai.IsTransient. label only
// appears in logs.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error, isRetryable func(error) bool, label string) error {
	_, err := Do(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, isRetryable, label)
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), isRetryable func(error) bool, label string) (T, error) {
	if isRetryable == nil {
		isRetryable = ai.IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		rateLimited := e.config.DetectRateLimit && IsRateLimitError(err)
		if !rateLimited && !isRetryable(err) {
			return zero, err
		}
		if attempt == e.config.MaxAttempts {
			break
		}

		delay := e.delay(attempt)
		e.logger.WarnContext(ctx, "operation failed, retrying",
			slog.String("retry.label", label),
			slog.Int("retry.attempt", attempt),
			slog.Int("retry.max_attempts", e.config.MaxAttempts),
			slog.Duration("retry.delay", delay),
			slog.Bool("retry.rate_limited", rateLimited),
			slog.String("error", err.Error()),
		)
		if e.onRetry != nil {
			e.onRetry(Attempt{Label: label, Number: attempt, Delay: delay, Err: err, RateLimited: rateLimited})
		}

		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("%s: retry aborted after attempt %d: %w (last error: %v)", label, attempt, sleepErr, lastErr)
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, e.config.MaxAttempts, lastErr)
}

// delay returns the wait after the given failed attempt (1-based).
func (e *Executor) delay(attempt int) time.Duration {
	base := float64(e.config.InitialDelay) * math.Pow(e.config.BackoffMultiplier, float64(attempt-1))
	if base > float64(e.config.MaxDelay) {
		base = float64(e.config.MaxDelay)
	}
	if e.config.Jitter {
		base += base * jitterFraction * (2*e.random() - 1)
		if base > float64(e.config.MaxDelay) {
			base = float64(e.config.MaxDelay)
		}
	}
	return time.Duration(base)
}

var rateLimitMarkers = []string{"rate limit", "rate_limit", "ratelimit", "too many requests", "resource_exhausted"}

// IsRateLimitError reports whether err is an HTTP 429 or carries one of the
// rate-limit markers vendors put in their error text.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *ai.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
