package ratelimit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry hands out one Limiter per resource name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithSleep replaces the context-aware sleep used while waiting, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Registry) {
		r.sleep = sleep
	}
}

// WithLogger sets the logger limiters report delays to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	registry := &Registry{
		limiters: make(map[string]*Limiter),
		now:      time.Now,
		sleep:    sleepContext,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry
}

// Get returns the limiter for name, creating it with limit and window the
// first time. Later calls return the same instance and ignore their quota.
func (r *Registry) Get(name string, limit int, window time.Duration) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, ok := r.limiters[name]; ok {
		return limiter
	}

	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}

	limiter := &Limiter{
		name:   name,
		limit:  limit,
		window: window,
		now:    r.now,
		sleep:  r.sleep,
		logger: r.logger,
		stamps: make([]time.Time, 0, limit),
	}
	r.limiters[name] = limiter
	return limiter
}

// Names lists registered resource names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every limiter. Callers holding a *Limiter keep using it, but
// Get will build fresh ones.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters = make(map[string]*Limiter)
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// Default returns the process-wide registry. The composition root resets it
// on shutdown; components receive it by injection rather than calling
// Default themselves.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
