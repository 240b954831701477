package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/chat"
	"github.com/leofalp/aimux/providers/observability"
)

// DefaultConcurrency bounds how many providers RegisterAll handles at once.
const DefaultConcurrency = 4

// ErrNotRegistered is returned for provider keys that were never registered.
var ErrNotRegistered = errors.New("provider not registered")

// errReplaced marks a registration dropped before its adapter was built.
var errReplaced = errors.New("provider registration replaced")

// RegistrationFailed reports one provider that could not be registered.
type RegistrationFailed struct {
	ProviderKey string
	Cause       error
}

func (e *RegistrationFailed) Error() string {
	return fmt.Sprintf("register provider %q: %v", e.ProviderKey, e.Cause)
}

func (e *RegistrationFailed) Unwrap() error { return e.Cause }

// BatchResult is the outcome of RegisterAll. Registered is sorted by key.
type BatchResult struct {
	Registered []string
	Failed     []*RegistrationFailed
}

// Err joins the failures, or returns nil when there were none.
func (b *BatchResult) Err() error {
	errs := make([]error, 0, len(b.Failed))
	for _, failure := range b.Failed {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

type registration struct {
	provider config.ProviderConfig
	known    *config.KnownProviderOverride
	factory  chat.Factory

	once     sync.Once
	instance ai.ChatProvider
	err      error
}

// Registry holds one registration per provider key.
type Registry struct {
	generic     chat.Factory
	specialized map[string]chat.Factory
	deps        chat.Dependencies
	logger      *slog.Logger
	concurrency int64

	mu      sync.RWMutex
	entries map[string]*registration
}

// Option configures a Registry.
type Option func(*Registry)

// WithSpecialized registers factory for provider key.
func WithSpecialized(key string, factory chat.Factory) Option {
	return func(r *Registry) {
		r.specialized[key] = factory
	}
}

// WithConcurrency overrides DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.concurrency = int64(n)
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns an empty registry building adapters with generic unless a
// specialized factory applies. deps is passed to every factory.
func New(generic chat.Factory, deps chat.Dependencies, opts ...Option) *Registry {
	r := &Registry{
		generic:     generic,
		specialized: make(map[string]chat.Factory),
		deps:        deps,
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		entries:     make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolve merges provider over its known entry, validates it and picks the
// factory.
func (r *Registry) resolve(provider config.ProviderConfig) (*registration, error) {
	var known *config.KnownProviderOverride
	if entry, ok := config.Known(provider.Key); ok {
		known = &entry
	}

	merged := config.ApplyKnown(provider, known)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	factory := r.generic
	if known != nil && known.SpecializedFactory {
		if specialized, ok := r.specialized[provider.Key]; ok {
			factory = specialized
		}
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: no factory for provider %q", ai.ErrConfiguration, provider.Key)
	}
	return &registration{provider: merged, known: known, factory: factory}, nil
}

// Resolve returns the factory and merged configuration of a registered
// provider.
func (r *Registry) Resolve(key string) (chat.Factory, config.ProviderConfig, error) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return nil, config.ProviderConfig{}, fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	return entry.factory, entry.provider, nil
}

// Register adds or replaces provider.
func (r *Registry) Register(provider config.ProviderConfig) error {
	entry, err := r.resolve(provider)
	if err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.entries[provider.Key]
	r.entries[provider.Key] = entry
	r.mu.Unlock()

	closeInstance(previous, r.logger)
	return nil
}

// Replace hot-swaps the configuration of a provider and drops its adapter,
// so the next Provider call builds a fresh one.
func (r *Registry) Replace(provider config.ProviderConfig) error {
	return r.Register(provider)
}

// Remove unregisters key and closes its adapter.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	entry, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	closeInstance(entry, r.logger)
	return ok
}

// RegisterAll registers entries concurrently. A failing entry is logged and
// reported in the result without affecting the others.
func (r *Registry) RegisterAll(ctx context.Context, entries []config.ProviderEntry) *BatchResult {
	sem := semaphore.NewWeighted(r.concurrency)
	result := &BatchResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	fail := func(key string, cause error) {
		if !errors.Is(cause, ai.ErrConfiguration) {
			cause = fmt.Errorf("%w: %w", ai.ErrConfiguration, cause)
		}
		r.logger.ErrorContext(ctx, "provider registration failed",
			slog.String(observability.AttrProvider, key),
			slog.String(observability.AttrError, cause.Error()),
		)
		if r.deps.Observer != nil {
			r.deps.Observer.Counter(observability.MetricRegistrationFail).Add(ctx, 1,
				observability.String(observability.AttrProvider, key))
		}
		mu.Lock()
		result.Failed = append(result.Failed, &RegistrationFailed{ProviderKey: key, Cause: cause})
		mu.Unlock()
	}

	start := time.Now()
	for _, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(entry.Key, err)
			continue
		}
		wg.Add(1)
		go func(entry config.ProviderEntry) {
			defer wg.Done()
			defer sem.Release(1)

			if entry.Err != nil {
				fail(entry.Key, entry.Err)
				return
			}
			provider := entry.Config
			provider.Key = entry.Key
			if err := r.Register(provider); err != nil {
				fail(entry.Key, err)
				return
			}
			mu.Lock()
			result.Registered = append(result.Registered, entry.Key)
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	sort.Strings(result.Registered)
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].ProviderKey < result.Failed[j].ProviderKey })
	r.logger.InfoContext(ctx, "providers registered",
		slog.Int("registered", len(result.Registered)),
		slog.Int("failed", len(result.Failed)),
		slog.Duration(observability.AttrDuration, time.Since(start)),
	)
	return result
}

// Provider returns the adapter of key, building it on first use. A failed
// construction is remembered until the provider is registered again.
func (r *Registry) Provider(ctx context.Context, key string) (ai.ChatProvider, error) {
	for {
		r.mu.RLock()
		entry, ok := r.entries[key]
		r.mu.RUnlock()
		if !ok {
			return nil, ai.NewError(ai.KindConfiguration, key, "", fmt.Errorf("%w: %s", ErrNotRegistered, key))
		}

		entry.once.Do(func() {
			entry.instance, entry.err = entry.factory(ctx, entry.provider, entry.known, r.deps)
			if entry.err != nil {
				r.logger.ErrorContext(ctx, "provider construction failed",
					slog.String(observability.AttrProvider, key),
					slog.String(observability.AttrError, entry.err.Error()),
				)
			}
		})
		if errors.Is(entry.err, errReplaced) {
			continue
		}
		return entry.instance, entry.err
	}
}

// Keys lists registered provider keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close closes every adapter that has been built.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registration)
	r.mu.Unlock()

	for _, entry := range entries {
		closeInstance(entry, r.logger)
	}
	return nil
}

// closeInstance closes the adapter of entry if it was built and is an
// io.Closer. An entry that was never built is poisoned so a caller still
// holding it looks the key up again.
func closeInstance(entry *registration, logger *slog.Logger) {
	if entry == nil {
		return
	}
	entry.once.Do(func() { entry.err = errReplaced })
	closer, ok := entry.instance.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("closing provider failed",
			slog.String(observability.AttrProvider, entry.provider.Key),
			slog.String(observability.AttrError, err.Error()),
		)
	}
}
