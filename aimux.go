package aimux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/leofalp/aimux/core/accounts"
	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/core/middleware"
	"github.com/leofalp/aimux/core/modelcache"
	"github.com/leofalp/aimux/core/ratelimit"
	"github.com/leofalp/aimux/core/registry"
	"github.com/leofalp/aimux/core/retry"
	"github.com/leofalp/aimux/core/tokens"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/chat"
	"github.com/leofalp/aimux/providers/chat/generic"
	"github.com/leofalp/aimux/providers/chat/ollama"
	"github.com/leofalp/aimux/providers/observability"
	"github.com/leofalp/aimux/providers/storage"
	"github.com/leofalp/aimux/providers/storage/inmemory"
)

// specialized maps provider keys to bespoke adapter factories. Keys missing
// here use the generic adapter.
var specialized = map[string]chat.Factory{
	ollama.Key: ollama.Factory,
}

// ErrShutdown is returned by calls made after Shutdown.
var ErrShutdown = errors.New("aimux: multiplexer is shut down")

// Mux wires the shared services to the provider registry.
type Mux struct {
	configPath    string
	store         storage.Store
	logger        *slog.Logger
	observer      observability.Provider
	httpClient    *http.Client
	retryConfig   retry.Config
	timeout       time.Duration
	prompter      chat.CredentialPrompter
	logLevel      middleware.LogLevel
	fingerprint   string
	selectionGate func() bool
	concurrency   int
	watch         bool
	writeBack     bool
	limiters      *ratelimit.Registry

	accounts *accounts.Manager
	cache    *modelcache.Cache
	registry *registry.Registry

	mu          sync.Mutex
	loaded      map[string]config.ProviderConfig
	watcher     *config.Watcher
	unsubscribe func()
	cancel      context.CancelFunc
	closed      bool
}

// Option configures a Mux.
type Option func(*Mux)

// WithConfigPath sets the provider file. Without one only providers added
// with Register are served.
func WithConfigPath(path string) Option {
	return func(m *Mux) {
		m.configPath = path
	}
}

// WithStore sets the durable key/value store for accounts, credentials and
// the model cache. The default keeps everything in memory.
func WithStore(store storage.Store) Option {
	return func(m *Mux) {
		if store != nil {
			m.store = store
		}
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mux) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver enables tracing and metrics through observer.
func WithObserver(observer observability.Provider) Option {
	return func(m *Mux) {
		m.observer = observer
	}
}

// WithHTTPClient sets the client used for vendor calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Mux) {
		m.httpClient = client
	}
}

// WithRetryConfig overrides retry.DefaultConfig.
func WithRetryConfig(cfg retry.Config) Option {
	return func(m *Mux) {
		m.retryConfig = cfg
	}
}

// WithTimeout bounds every chat stream from establishment to its last part.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Mux) {
		m.timeout = timeout
	}
}

// WithPrompter installs the interactive credential prompt used by
// non-silent operations when a provider has no credential.
func WithPrompter(prompter chat.CredentialPrompter) Option {
	return func(m *Mux) {
		m.prompter = prompter
	}
}

// WithLogLevel sets how much of each request the logging middleware records.
func WithLogLevel(level middleware.LogLevel) Option {
	return func(m *Mux) {
		m.logLevel = level
	}
}

// WithFingerprint sets the build identity stamped on cached catalogs.
// modelcache.DevelopmentFingerprint bypasses cache reads.
func WithFingerprint(fingerprint string) Option {
	return func(m *Mux) {
		m.fingerprint = fingerprint
	}
}

// WithSelectionGate sets the feature flag guarding the remembered model.
func WithSelectionGate(enabled func() bool) Option {
	return func(m *Mux) {
		m.selectionGate = enabled
	}
}

// WithConcurrency bounds how many providers Init registers at once.
func WithConcurrency(n int) Option {
	return func(m *Mux) {
		m.concurrency = n
	}
}

// WithWatch reloads the provider file when it changes on disk.
func WithWatch(enabled bool) Option {
	return func(m *Mux) {
		m.watch = enabled
	}
}

// WithWriteBack lets adapters persist refreshed catalogs into the provider
// file. The file must already exist.
func WithWriteBack(enabled bool) Option {
	return func(m *Mux) {
		m.writeBack = enabled
	}
}

// WithLimiters replaces the process-wide limiter registry, mostly for tests.
func WithLimiters(limiters *ratelimit.Registry) Option {
	return func(m *Mux) {
		if limiters != nil {
			m.limiters = limiters
		}
	}
}

// New builds the services. Nothing is loaded until Init.
func New(opts ...Option) *Mux {
	m := &Mux{
		store:       inmemory.New(),
		logger:      slog.Default(),
		retryConfig: retry.DefaultConfig(),
		concurrency: registry.DefaultConcurrency,
		limiters:    ratelimit.Default(),
		loaded:      make(map[string]config.ProviderConfig),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.accounts = accounts.New(m.store, accounts.WithLogger(m.logger))

	cacheOpts := []modelcache.Option{
		modelcache.WithLogger(m.logger),
		modelcache.WithKnownKeys(m.cacheKeys),
		modelcache.WithFingerprint(m.fingerprint),
	}
	if m.selectionGate != nil {
		cacheOpts = append(cacheOpts, modelcache.WithSelectionGate(m.selectionGate))
	}
	m.cache = modelcache.New(m.store, cacheOpts...)

	deps := chat.Dependencies{
		Accounts:    m.accounts,
		Cache:       m.cache,
		Limiters:    m.limiters,
		Retry:       retry.New(m.retryConfig, retry.WithLogger(m.logger)),
		Tokens:      tokens.NewCounter(),
		Observer:    m.observer,
		Prompter:    m.prompter,
		Conventions: generic.DefaultConventions(),
		HTTPClient:  m.httpClient,
		Logger:      m.logger,
		LogLevel:    m.logLevel,
		Timeout:     m.timeout,
	}
	if m.writeBack && m.configPath != "" {
		deps.WriteConfig = m.writeModels
	}

	registryOpts := []registry.Option{
		registry.WithLogger(m.logger),
		registry.WithConcurrency(m.concurrency),
	}
	for key, factory := range specialized {
		registryOpts = append(registryOpts, registry.WithSpecialized(key, factory))
	}
	m.registry = registry.New(generic.Factory, deps, registryOpts...)
	return m
}

// Init loads accounts and the provider file, registers every provider and,
// when enabled, starts watching the file. A malformed provider is reported
// in the result and does not fail Init; a missing file means no providers.
func (m *Mux) Init(ctx context.Context) (*registry.BatchResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	if m.cancel != nil {
		m.mu.Unlock()
		return nil, errors.New("aimux: Init called twice")
	}
	m.mu.Unlock()

	if err := m.accounts.Load(ctx); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	entries, err := m.loadEntries()
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}

	result := m.registry.RegisterAll(ctx, entries)
	m.remember(entries)
	registered := make(map[string]bool, len(result.Registered))
	for _, key := range result.Registered {
		registered[key] = true
	}
	for _, entry := range entries {
		if registered[entry.Key] {
			m.syncAPIKey(ctx, entry.Config)
		}
	}
	m.logger.Info("providers registered",
		slog.Int("registered", len(result.Registered)),
		slog.Int("failed", len(result.Failed)),
	)

	unsubscribe := m.accounts.Subscribe(m.onAccountEvent)

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var watcher *config.Watcher
	if m.watch && m.configPath != "" {
		watcher = config.NewWatcher(m.configPath, m.reload, config.WithWatcherLogger(m.logger))
		if err := watcher.Start(lifetime); err != nil {
			m.logger.Warn("config hot reload disabled", slog.String("error", err.Error()))
			watcher = nil
		}
	}

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.watcher = watcher
	m.cancel = cancel
	m.mu.Unlock()

	return result, nil
}

// syncAPIKey records a directly configured apiKey as an account of its
// provider. Failures only cost the account listing, so they are logged.
func (m *Mux) syncAPIKey(ctx context.Context, provider config.ProviderConfig) {
	if provider.APIKey == "" {
		return
	}
	if _, err := m.accounts.EnsureAPIKeyAccount(ctx, provider.Key, provider.APIKey); err != nil {
		m.logger.Warn("configured api key not synced",
			slog.String(observability.AttrProvider, provider.Key),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Mux) loadEntries() ([]config.ProviderEntry, error) {
	if m.configPath == "" {
		return nil, nil
	}
	entries, err := config.Load(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		m.logger.Debug("no provider file", slog.String("path", m.configPath))
		return nil, nil
	}
	return entries, err
}

// remember records the raw configuration of each well-formed entry so
// reloads can tell which providers changed.
func (m *Mux) remember(entries []config.ProviderEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if entry.Err == nil {
			m.loaded[entry.Key] = entry.Config
		}
	}
}

// reload applies a changed provider file: changed providers are replaced
// and their cached catalogs dropped, vanished ones removed. A malformed
// provider keeps its previous registration.
func (m *Mux) reload(entries []config.ProviderEntry, err error) {
	if err != nil {
		m.logger.Warn("provider file reload failed", slog.String("error", err.Error()))
		return
	}

	ctx := context.Background()
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		seen[entry.Key] = true
		if entry.Err != nil {
			m.logger.Warn("provider kept at previous configuration",
				slog.String(observability.AttrProvider, entry.Key),
				slog.String("error", entry.Err.Error()),
			)
			continue
		}

		m.mu.Lock()
		previous, known := m.loaded[entry.Key]
		m.mu.Unlock()
		if known && reflect.DeepEqual(previous, entry.Config) {
			continue
		}

		if err := m.registry.Replace(entry.Config); err != nil {
			m.logger.Warn("provider reload rejected",
				slog.String(observability.AttrProvider, entry.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.mu.Lock()
		m.loaded[entry.Key] = entry.Config
		m.mu.Unlock()
		m.syncAPIKey(ctx, entry.Config)
		if known {
			m.cache.InvalidateCache(ctx, entry.Key)
		}
		m.logger.Info("provider reloaded", slog.String(observability.AttrProvider, entry.Key))
	}

	m.mu.Lock()
	var removed []string
	for key := range m.loaded {
		if !seen[key] {
			removed = append(removed, key)
			delete(m.loaded, key)
		}
	}
	m.mu.Unlock()

	for _, key := range removed {
		m.registry.Remove(key)
		m.cache.InvalidateCache(ctx, key)
		m.logger.Info("provider removed", slog.String(observability.AttrProvider, key))
	}
}

// onAccountEvent drops the cached catalog of a provider whose credential
// may have changed. Repeated events are harmless.
func (m *Mux) onAccountEvent(event accounts.Event) {
	switch event.Type {
	case accounts.EventSwitched, accounts.EventRemoved, accounts.EventUpdated:
		m.cache.InvalidateCache(context.Background(), event.Provider)
	}
}

func (m *Mux) writeModels(providerKey string, models []config.ModelConfig) error {
	return config.WriteModels(m.configPath, providerKey, models)
}

// cacheKeys lists the providers ClearAll visits: every known provider plus
// every registered one.
func (m *Mux) cacheKeys() []string {
	set := make(map[string]struct{})
	for _, key := range config.KnownKeys() {
		set[key] = struct{}{}
	}
	if m.registry != nil {
		for _, key := range m.registry.Keys() {
			set[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Provider returns the adapter serving key, building it on first use.
func (m *Mux) Provider(ctx context.Context, key string) (ai.ChatProvider, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrShutdown
	}
	return m.registry.Provider(ctx, key)
}

// Register adds or replaces a provider outside the provider file.
func (m *Mux) Register(provider config.ProviderConfig) error {
	return m.registry.Register(provider)
}

// Keys returns the registered provider keys, sorted.
func (m *Mux) Keys() []string {
	return m.registry.Keys()
}

// Accounts returns the account manager.
func (m *Mux) Accounts() *accounts.Manager {
	return m.accounts
}

// Cache returns the model cache.
func (m *Mux) Cache() *modelcache.Cache {
	return m.cache
}

// Shutdown stops watching, closes every adapter (waiting for background
// refreshes), flushes pending cache writes and resets the limiters. Further
// calls are no-ops.
func (m *Mux) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	watcher, unsubscribe, cancel := m.watcher, m.unsubscribe, m.cancel
	m.mu.Unlock()

	var errs []error
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop config watcher: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	done := make(chan error, 1)
	go func() {
		err := m.registry.Close()
		m.cache.Flush()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("shutdown: %w", ctx.Err()))
	}

	m.limiters.Reset()
	return errors.Join(errs...)
}
