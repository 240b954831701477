package generic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/core/ratelimit"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/ai/anthropic"
	"github.com/leofalp/aimux/providers/ai/openai"
	"github.com/leofalp/aimux/providers/chat"
	"github.com/leofalp/aimux/providers/observability"
)

// RefreshInterval is the minimum time between two background catalog refreshes.
const RefreshInterval = 10 * time.Minute

// discoveryTimeout bounds one background refresh.
const discoveryTimeout = time.Minute

var errNoCredential = errors.New("no API key configured and no active account")

// Discoverer lists the models behind endpoint. The default is the SDK-mode
// convention's ListModels.
type Discoverer func(ctx context.Context, endpoint ai.Endpoint) ([]ai.ModelInfo, error)

// Provider is the generic ai.ChatProvider.
type Provider struct {
	deps   chat.Dependencies
	known  *config.KnownProviderOverride
	logger *slog.Logger

	discover           Discoverer
	credentialOptional bool
	refreshInterval    time.Duration

	mu         sync.RWMutex
	provider   config.ProviderConfig
	configured []config.ModelConfig

	refreshMu   sync.Mutex
	lastRefresh time.Time
	refreshing  bool
	pending     sync.WaitGroup
}

var _ ai.ChatProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithDiscoverer replaces convention-based model discovery.
func WithDiscoverer(discover Discoverer) Option {
	return func(p *Provider) {
		p.discover = discover
	}
}

// WithoutCredential lets the provider run with no API key, for local servers.
func WithoutCredential() Option {
	return func(p *Provider) {
		p.credentialOptional = true
	}
}

// WithRefreshInterval overrides RefreshInterval.
func WithRefreshInterval(interval time.Duration) Option {
	return func(p *Provider) {
		p.refreshInterval = interval
	}
}

// DefaultConventions returns one convention per SDK mode.
func DefaultConventions() map[config.SDKMode]ai.Convention {
	return map[config.SDKMode]ai.Convention{
		config.SDKModeOpenAI:    openai.New(),
		config.SDKModeAnthropic: anthropic.New(),
	}
}

// Factory is the chat.Factory for the generic adapter.
func Factory(_ context.Context, provider config.ProviderConfig, known *config.KnownProviderOverride, deps chat.Dependencies) (ai.ChatProvider, error) {
	return New(provider, known, deps)
}

// New builds the adapter for provider, which must already be merged over
// known. Configuration errors wrap ai.ErrConfiguration.
func New(provider config.ProviderConfig, known *config.KnownProviderOverride, deps chat.Dependencies, opts ...Option) (*Provider, error) {
	provider = provider.Normalize()
	if err := provider.Validate(); err != nil {
		return nil, ai.NewError(ai.KindConfiguration, provider.DisplayName, "", err)
	}

	deps = deps.WithDefaults()
	if deps.Conventions == nil {
		deps.Conventions = DefaultConventions()
	}

	p := &Provider{
		deps:            deps,
		known:           known,
		logger:          deps.Logger.With(slog.String(observability.AttrProvider, provider.Key)),
		refreshInterval: RefreshInterval,
		provider:        provider,
		configured:      slices.Clone(provider.Models),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.discover == nil {
		convention, ok := deps.Conventions[provider.SDKMode]
		if !ok {
			return nil, ai.NewError(ai.KindConfiguration, provider.DisplayName, "",
				fmt.Errorf("%w: no convention for sdkMode %q", ai.ErrConfiguration, provider.SDKMode))
		}
		p.discover = convention.ListModels
	}
	return p, nil
}

// Key returns the provider key.
func (p *Provider) Key() string {
	return p.snapshot().Key
}

// Config returns the current configuration, catalog included.
func (p *Provider) Config() config.ProviderConfig {
	return p.snapshot()
}

// Close waits for background refreshes to finish.
func (p *Provider) Close() error {
	p.pending.Wait()
	return nil
}

func (p *Provider) snapshot() config.ProviderConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.provider
}

func (p *Provider) setModels(models []config.ModelConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = p.provider.WithModels(models).Normalize()
}

// credential resolves the API key: the configured key, then the key
// template, then the active account. When nothing is found and the call is
// not silent, the prompter gets one chance to add an account.
func (p *Provider) credential(ctx context.Context, silent bool) (string, error) {
	provider := p.snapshot()
	if provider.APIKey != "" {
		return provider.APIKey, nil
	}
	if key := config.ExpandEnv(provider.APIKeyTemplate); key != "" {
		return key, nil
	}

	key, err := p.accountKey(ctx, provider)
	if err != nil || key != "" {
		return key, err
	}

	if !silent && p.deps.Prompter != nil && !p.credentialOptional {
		if err := p.deps.Prompter.PromptCredential(ctx, provider); err != nil {
			return "", ai.NewError(ai.KindCredentialMissing, provider.DisplayName, "", err)
		}
		key, err = p.accountKey(ctx, provider)
		if err != nil || key != "" {
			return key, err
		}
	}

	if p.credentialOptional {
		return "", nil
	}
	return "", ai.NewError(ai.KindCredentialMissing, provider.DisplayName, "", errNoCredential)
}

// accountKey returns the active account's secret. A storage failure is a
// cache error, not a missing credential.
func (p *Provider) accountKey(ctx context.Context, provider config.ProviderConfig) (string, error) {
	if p.deps.Accounts == nil {
		return "", nil
	}
	credential, err := p.deps.Accounts.ActiveCredential(ctx, provider.Key)
	if err != nil {
		kind := ai.KindCredentialMissing
		if errors.Is(err, ai.ErrCache) {
			kind = ai.KindCache
		}
		return "", ai.NewError(kind, provider.DisplayName, "", err)
	}
	if credential == nil {
		return "", nil
	}
	return credential.Secret(), nil
}

// limiter returns the inference limiter, or the discovery limiter when
// discovery has its own quota.
func (p *Provider) limiter(discovery bool) *ratelimit.Limiter {
	provider := p.snapshot()
	name := provider.Key
	quota := provider.RateLimit
	if discovery && provider.DiscoveryRateLimit != nil {
		name = provider.Key + ":models"
		quota = provider.DiscoveryRateLimit
	}
	if quota == nil {
		return p.deps.Limiters.Get(name, ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	return p.deps.Limiters.Get(name, quota.Requests, quota.Window())
}
