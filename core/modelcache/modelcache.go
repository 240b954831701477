package modelcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/observability"
	"github.com/leofalp/aimux/providers/storage"
)

const (
	// Namespace prefixes every cache entry key.
	Namespace = "aimux_models"
	// CacheVersion is bumped when Entry changes shape.
	CacheVersion = "v1"
	// DefaultTTL is how long a discovered catalog stays valid.
	DefaultTTL = 24 * time.Hour
	// SelectionKey holds the single last-selected-model record.
	SelectionKey = "aimux_last_selected_model"
	// DevelopmentFingerprint marks a development build; its caches are never read.
	DevelopmentFingerprint = "dev"

	// compatibleKey is cleared by ClearAll even though users name it freely.
	compatibleKey = "compatible"
)

// Entry is one provider's cached catalog.
type Entry struct {
	Models      []config.ModelConfig `json:"models"`
	Fingerprint string               `json:"fingerprint"`
	CreatedAt   time.Time            `json:"createdAt"`
	APIKeyHash  string               `json:"apiKeyHash"`
}

// Selection is the model the user picked last, across all providers.
type Selection struct {
	ProviderKey string    `json:"providerKey"`
	ModelID     string    `json:"modelId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the storage key of providerKey's entry.
func Key(providerKey string) string {
	return Namespace + "_" + CacheVersion + "_" + providerKey
}

// HashAPIKey is the truncated SHA-256 stored with an entry so a key change
// invalidates it without the key itself being persisted.
func HashAPIKey(apiKey string) string {
	return utils.ShortHash(apiKey)
}

// Cache keeps discovered model catalogs in memory and in a durable store.
// Reads are served from memory once loaded; durable writes happen in the
// background and Flush waits for them.
type Cache struct {
	store            storage.Store
	logger           *slog.Logger
	now              func() time.Time
	ttl              time.Duration
	fingerprint      string
	selectionEnabled func() bool
	knownKeys        func() []string

	mu      sync.RWMutex
	memory  map[string]Entry
	version map[string]uint64

	// writeMu orders durable writes so a stale write never lands after a
	// newer one for the same key.
	writeMu sync.Mutex
	pending sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for miss reasons and write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFingerprint sets the identity of the running build, usually its
// version. Entries written by another build are misses.
// DevelopmentFingerprint disables reads entirely.
func WithFingerprint(fingerprint string) Option {
	return func(c *Cache) {
		if fingerprint != "" {
			c.fingerprint = fingerprint
		}
	}
}

// WithSelectionGate installs the feature flag consulted before every read and
// write of the last selected model.
func WithSelectionGate(enabled func() bool) Option {
	return func(c *Cache) {
		if enabled != nil {
			c.selectionEnabled = enabled
		}
	}
}

// WithKnownKeys sets the provider keys ClearAll visits.
func WithKnownKeys(keys func() []string) Option {
	return func(c *Cache) {
		if keys != nil {
			c.knownKeys = keys
		}
	}
}

// New creates a Cache over store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:            store,
		logger:           slog.Default(),
		now:              time.Now,
		ttl:              DefaultTTL,
		fingerprint:      CacheVersion,
		selectionEnabled: func() bool { return true },
		knownKeys:        config.KnownKeys,
		memory:           make(map[string]Entry),
		version:          make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCachedModels returns the cached catalog of providerKey when it was
// written by this build, for the same API key, less than TTL ago.
func (c *Cache) GetCachedModels(ctx context.Context, providerKey string, apiKeyHash string) ([]config.ModelConfig, bool) {
	if c.fingerprint == DevelopmentFingerprint {
		c.miss(providerKey, "development build")
		return nil, false
	}

	entry, ok := c.load(ctx, providerKey)
	if !ok {
		return nil, false
	}

	switch {
	case entry.Fingerprint != c.fingerprint:
		c.miss(providerKey, "fingerprint mismatch")
		return nil, false
	case entry.APIKeyHash != apiKeyHash:
		c.miss(providerKey, "api key changed")
		return nil, false
	case c.now().Sub(entry.CreatedAt) > c.ttl:
		c.miss(providerKey, "expired")
		return nil, false
	}

	c.logger.Debug("model cache hit",
		observability.AttrProvider, providerKey,
		observability.AttrModelCount, len(entry.Models),
	)
	return cloneModels(entry.Models), true
}

func (c *Cache) load(ctx context.Context, providerKey string) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.memory[providerKey]
	version := c.version[providerKey]
	c.mu.RUnlock()
	if ok {
		return entry, true
	}

	raw, found, err := c.store.Get(ctx, Key(providerKey))
	if err != nil {
		c.logger.Warn("model cache read failed",
			observability.AttrProvider, providerKey,
			observability.AttrError, err.Error(),
		)
		return Entry{}, false
	}
	if !found {
		c.miss(providerKey, "no entry")
		return Entry{}, false
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.miss(providerKey, "decode failed: "+err.Error())
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, raced := c.memory[providerKey]; raced {
		return current, true
	}
	// A write or invalidation since the snapshot makes what we read stale.
	if c.version[providerKey] != version {
		c.miss(providerKey, "invalidated during load")
		return Entry{}, false
	}
	c.memory[providerKey] = entry
	return entry, true
}

func (c *Cache) miss(providerKey, reason string) {
	c.logger.Debug("model cache miss",
		observability.AttrProvider, providerKey,
		"reason", reason,
	)
}

// CacheModels records models for providerKey. The in-memory layer is updated
// before returning; the durable write runs in the background and its
// failures are only logged.
func (c *Cache) CacheModels(ctx context.Context, providerKey string, models []config.ModelConfig, apiKeyHash string) {
	entry := Entry{
		Models:      cloneModels(models),
		Fingerprint: c.fingerprint,
		CreatedAt:   c.now(),
		APIKeyHash:  apiKeyHash,
	}

	c.mu.Lock()
	c.memory[providerKey] = entry
	c.version[providerKey]++
	version := c.version[providerKey]
	c.mu.Unlock()

	encoded, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("model cache encode failed",
			observability.AttrProvider, providerKey,
			observability.AttrError, err.Error(),
		)
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if !c.isLatest(providerKey, version) {
			return
		}
		if err := c.store.Set(writeCtx, Key(providerKey), string(encoded)); err != nil {
			c.logger.Warn("model cache write failed",
				observability.AttrProvider, providerKey,
				observability.AttrError, err.Error(),
			)
		}
	}()
}

func (c *Cache) isLatest(providerKey string, version uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version[providerKey] == version
}

// Flush blocks until every background write has finished.
func (c *Cache) Flush() {
	c.pending.Wait()
}

// InvalidateCache drops providerKey's entry from memory and storage.
func (c *Cache) InvalidateCache(ctx context.Context, providerKey string) {
	c.invalidate(ctx, providerKey)
}

// invalidate reports whether an entry existed in either layer.
func (c *Cache) invalidate(ctx context.Context, providerKey string) bool {
	c.mu.Lock()
	_, inMemory := c.memory[providerKey]
	delete(c.memory, providerKey)
	// Pending writes for the old version become no-ops.
	c.version[providerKey]++
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, stored, err := c.store.Get(ctx, Key(providerKey))
	if err != nil {
		stored = true
	}
	if err := c.store.Delete(ctx, Key(providerKey)); err != nil {
		c.logger.Warn("model cache delete failed",
			observability.AttrProvider, providerKey,
			observability.AttrError, err.Error(),
		)
	}
	return inMemory || stored
}

// ClearAll invalidates every known provider plus the generic compatible
// key and returns how many entries existed.
func (c *Cache) ClearAll(ctx context.Context) int {
	keys := append(slices.Clone(c.knownKeys()), compatibleKey)
	seen := make(map[string]bool, len(keys))

	cleared := 0
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if c.invalidate(ctx, key) {
			cleared++
		}
	}
	c.logger.Info("model cache cleared", "entries", cleared)
	return cleared
}

// SaveLastSelectedModel remembers modelID as the user's choice. It is a
// no-op while the selection gate is closed.
func (c *Cache) SaveLastSelectedModel(ctx context.Context, providerKey string, modelID string) {
	if !c.selectionEnabled() {
		return
	}
	encoded, err := json.Marshal(Selection{
		ProviderKey: providerKey,
		ModelID:     modelID,
		Timestamp:   c.now(),
	})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, SelectionKey, string(encoded)); err != nil {
		c.logger.Warn("failed to save selected model",
			observability.AttrProvider, providerKey,
			observability.AttrModel, modelID,
			observability.AttrError, err.Error(),
		)
	}
}

// GetLastSelectedModel returns the saved selection when it belongs to
// providerKey and the selection gate is open.
func (c *Cache) GetLastSelectedModel(ctx context.Context, providerKey string) (Selection, bool) {
	if !c.selectionEnabled() {
		return Selection{}, false
	}
	raw, found, err := c.store.Get(ctx, SelectionKey)
	if err != nil || !found {
		return Selection{}, false
	}

	var selection Selection
	if err := json.Unmarshal([]byte(raw), &selection); err != nil {
		c.logger.Debug("discarding unreadable model selection", observability.AttrError, err.Error())
		return Selection{}, false
	}
	if selection.ProviderKey != providerKey {
		return Selection{}, false
	}
	return selection, true
}

func cloneModels(models []config.ModelConfig) []config.ModelConfig {
	if models == nil {
		return nil
	}
	out := make([]config.ModelConfig, len(models))
	copy(out, models)
	return out
}
