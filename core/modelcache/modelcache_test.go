package modelcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/providers/storage/inmemory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

var sampleModels = []config.ModelConfig{
	{ID: "gpt-4o", MaxInputTokens: 128000, Capabilities: config.Capabilities{ToolCalling: true}},
	{ID: "gpt-4o-mini"},
}

func TestCache_RoundTripAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	clock := newClock()
	hash := HashAPIKey("sk-1")

	writer := New(store, WithClock(clock.Now), WithFingerprint("1.2.0"))
	writer.CacheModels(ctx, "openai", sampleModels, hash)

	// The memory layer answers before the durable write lands.
	models, ok := writer.GetCachedModels(ctx, "openai", hash)
	if !ok || len(models) != 2 {
		t.Fatalf("GetCachedModels() = %v, %v", models, ok)
	}

	writer.Flush()
	if _, found, _ := store.Get(ctx, "aimux_models_v1_openai"); !found {
		t.Fatal("entry not persisted under aimux_models_v1_openai")
	}

	reader := New(store, WithClock(clock.Now), WithFingerprint("1.2.0"))
	models, ok = reader.GetCachedModels(ctx, "openai", hash)
	if !ok {
		t.Fatal("fresh instance missed a persisted entry")
	}
	if models[0].ID != "gpt-4o" || !models[0].Capabilities.ToolCalling || models[0].MaxInputTokens != 128000 {
		t.Errorf("models[0] = %+v", models[0])
	}
}

func TestCache_Misses(t *testing.T) {
	ctx := context.Background()
	hash := HashAPIKey("sk-1")

	tests := []struct {
		name    string
		setup   func(store *inmemory.Store, clock *fakeClock)
		reader  []Option
		keyHash string
	}{
		{
			name:    "absent",
			setup:   func(*inmemory.Store, *fakeClock) {},
			keyHash: hash,
		},
		{
			name: "fingerprint mismatch",
			setup: func(store *inmemory.Store, clock *fakeClock) {
				c := New(store, WithClock(clock.Now), WithFingerprint("1.0.0"))
				c.CacheModels(ctx, "openai", sampleModels, hash)
				c.Flush()
			},
			reader:  []Option{WithFingerprint("1.1.0")},
			keyHash: hash,
		},
		{
			name: "api key changed",
			setup: func(store *inmemory.Store, clock *fakeClock) {
				c := New(store, WithClock(clock.Now))
				c.CacheModels(ctx, "openai", sampleModels, hash)
				c.Flush()
			},
			keyHash: HashAPIKey("sk-2"),
		},
		{
			name: "expired",
			setup: func(store *inmemory.Store, clock *fakeClock) {
				c := New(store, WithClock(clock.Now))
				c.CacheModels(ctx, "openai", sampleModels, hash)
				c.Flush()
				clock.Advance(DefaultTTL + time.Minute)
			},
			keyHash: hash,
		},
		{
			name: "undecodable",
			setup: func(store *inmemory.Store, clock *fakeClock) {
				_ = store.Set(ctx, Key("openai"), "{broken")
			},
			keyHash: hash,
		},
		{
			name: "development build",
			setup: func(store *inmemory.Store, clock *fakeClock) {
				c := New(store, WithClock(clock.Now), WithFingerprint(DevelopmentFingerprint))
				c.CacheModels(ctx, "openai", sampleModels, hash)
				c.Flush()
			},
			reader:  []Option{WithFingerprint(DevelopmentFingerprint)},
			keyHash: hash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := inmemory.New()
			clock := newClock()
			tt.setup(store, clock)

			reader := New(store, append([]Option{WithClock(clock.Now)}, tt.reader...)...)
			if models, ok := reader.GetCachedModels(ctx, "openai", tt.keyHash); ok {
				t.Fatalf("GetCachedModels() hit with %v, want miss", models)
			}
		})
	}
}

func TestCache_DevelopmentBypassStillWrites(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	c := New(store, WithFingerprint(DevelopmentFingerprint))
	c.CacheModels(ctx, "openai", sampleModels, "h")
	c.Flush()

	if _, ok := c.GetCachedModels(ctx, "openai", "h"); ok {
		t.Error("development build read its own cache")
	}
	if _, found, _ := store.Get(ctx, Key("openai")); !found {
		t.Error("development build should still persist")
	}
}

func TestCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := New(inmemory.New(), WithClock(clock.Now), WithTTL(time.Hour))
	c.CacheModels(ctx, "groq", sampleModels, "h")

	clock.Advance(time.Hour)
	if _, ok := c.GetCachedModels(ctx, "groq", "h"); !ok {
		t.Error("entry exactly TTL old should still hit")
	}
	clock.Advance(time.Second)
	if _, ok := c.GetCachedModels(ctx, "groq", "h"); ok {
		t.Error("entry older than TTL should miss")
	}
}

func TestCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := New(inmemory.New())
	c.CacheModels(ctx, "openai", sampleModels, "h")

	models, _ := c.GetCachedModels(ctx, "openai", "h")
	models[0].ID = "mutated"

	again, _ := c.GetCachedModels(ctx, "openai", "h")
	if again[0].ID != "gpt-4o" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestCache_InvalidateBeatsPendingWrite(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	c := New(store)

	c.CacheModels(ctx, "openai", sampleModels, "h")
	c.InvalidateCache(ctx, "openai")
	c.Flush()

	if _, ok := c.GetCachedModels(ctx, "openai", "h"); ok {
		t.Error("invalidated entry still served")
	}
	if _, found, _ := store.Get(ctx, Key("openai")); found {
		t.Error("pending write resurrected an invalidated entry")
	}
}

func TestCache_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	c := New(store)

	for i := range 20 {
		models := []config.ModelConfig{{ID: "m", MaxOutputTokens: i + 1}}
		c.CacheModels(ctx, "openai", models, "h")
	}
	c.Flush()

	reader := New(store)
	models, ok := reader.GetCachedModels(ctx, "openai", "h")
	if !ok || models[0].MaxOutputTokens != 20 {
		t.Fatalf("persisted = %+v, want the last write", models)
	}
}

func TestCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	c := New(store, WithKnownKeys(func() []string { return []string{"openai", "groq", "openai"} }))

	c.CacheModels(ctx, "openai", sampleModels, "h")
	c.CacheModels(ctx, "compatible", sampleModels, "h")
	c.CacheModels(ctx, "unlisted", sampleModels, "h")
	c.Flush()

	if got := c.ClearAll(ctx); got != 2 {
		t.Errorf("ClearAll() = %d, want 2", got)
	}
	for _, key := range []string{"openai", "compatible"} {
		if _, found, _ := store.Get(ctx, Key(key)); found {
			t.Errorf("%s not cleared", key)
		}
	}
	if _, found, _ := store.Get(ctx, Key("unlisted")); !found {
		t.Error("ClearAll touched a key outside its list")
	}
	if got := c.ClearAll(ctx); got != 0 {
		t.Errorf("second ClearAll() = %d, want 0", got)
	}
}

func TestSelection_Gated(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	enabled := true
	c := New(inmemory.New(), WithClock(clock.Now), WithSelectionGate(func() bool { return enabled }))

	c.SaveLastSelectedModel(ctx, "openai", "gpt-4o")
	selection, ok := c.GetLastSelectedModel(ctx, "openai")
	if !ok || selection.ModelID != "gpt-4o" || !selection.Timestamp.Equal(clock.Now()) {
		t.Fatalf("GetLastSelectedModel() = %+v, %v", selection, ok)
	}
	if _, ok := c.GetLastSelectedModel(ctx, "groq"); ok {
		t.Error("selection of another provider returned")
	}

	enabled = false
	if _, ok := c.GetLastSelectedModel(ctx, "openai"); ok {
		t.Error("read allowed while gate closed")
	}
	c.SaveLastSelectedModel(ctx, "groq", "llama")

	enabled = true
	if _, ok := c.GetLastSelectedModel(ctx, "groq"); ok {
		t.Error("write allowed while gate closed")
	}
	if selection, _ := c.GetLastSelectedModel(ctx, "openai"); selection.ModelID != "gpt-4o" {
		t.Errorf("selection = %+v", selection)
	}
}

type brokenStore struct{ *inmemory.Store }

func (brokenStore) Set(context.Context, string, string) error { return errors.New("read-only") }

func TestCache_WriteFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c := New(brokenStore{inmemory.New()})

	c.CacheModels(ctx, "openai", sampleModels, "h")
	c.Flush()
	if _, ok := c.GetCachedModels(ctx, "openai", "h"); !ok {
		t.Error("memory layer should still serve after a failed durable write")
	}
	c.SaveLastSelectedModel(ctx, "openai", "gpt-4o")
}

// pausingStore holds the first Get after it has read the value until
// release is closed.
type pausingStore struct {
	*inmemory.Store
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.Store.Get(ctx, key)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return value, ok, err
}

func TestCache_InvalidateDuringLoadIsNotUndone(t *testing.T) {
	ctx := context.Background()
	backing := inmemory.New()

	writer := New(backing)
	writer.CacheModels(ctx, "openai", []config.ModelConfig{{ID: "stale"}}, "h")
	writer.Flush()

	store := &pausingStore{Store: backing, read: make(chan struct{}), release: make(chan struct{})}
	c := New(store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.GetCachedModels(ctx, "openai", "h")
	}()

	<-store.read
	c.InvalidateCache(ctx, "openai")
	close(store.release)
	<-done

	if models, ok := c.GetCachedModels(ctx, "openai", "h"); ok {
		t.Fatalf("stale entry served after invalidation: %+v", models)
	}
	if _, found, _ := backing.Get(ctx, Key("openai")); found {
		t.Error("durable entry survived invalidation")
	}
}

func TestHashAPIKey(t *testing.T) {
	if HashAPIKey("sk-a") == HashAPIKey("sk-b") {
		t.Error("distinct keys share a hash")
	}
	if len(HashAPIKey("sk-a")) != 16 {
		t.Errorf("hash length = %d", len(HashAPIKey("sk-a")))
	}
	if HashAPIKey("") != "" {
		t.Error("empty key should hash to empty")
	}
}
