package generic

import (
	"context"
	"log/slog"
	"time"

	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/core/modelcache"
	"github.com/leofalp/aimux/core/retry"
	"github.com/leofalp/aimux/internal/utils"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

// ListModels returns the cached or configured catalog without waiting for
// the network, and starts a background refresh when the last one is older
// than the refresh interval. With options.Silent set, a missing credential
// yields an empty list.
func (p *Provider) ListModels(ctx context.Context, options ai.ListOptions) ([]ai.ModelInfo, error) {
	key, err := p.credential(ctx, options.Silent)
	if err != nil {
		if options.Silent {
			p.logger.DebugContext(ctx, "no credential, listing nothing",
				slog.Bool(observability.AttrSilent, true),
				slog.String(observability.AttrError, err.Error()),
			)
			return []ai.ModelInfo{}, nil
		}
		return nil, err
	}

	provider := p.snapshot()
	keyHash := modelcache.HashAPIKey(key)
	if p.deps.Cache != nil {
		if cached, ok := p.deps.Cache.GetCachedModels(ctx, provider.Key, keyHash); ok {
			merged := config.MergeCatalog(p.configured, cached)
			if p.catalogChanged(merged) {
				p.setModels(merged)
			}
		}
	}

	p.maybeRefresh(ctx, key)
	return p.modelInfos(ctx), nil
}

// Refresh runs discovery now and returns the updated catalog.
func (p *Provider) Refresh(ctx context.Context) ([]ai.ModelInfo, error) {
	key, err := p.credential(ctx, false)
	if err != nil {
		return nil, err
	}

	p.refreshMu.Lock()
	p.lastRefresh = p.deps.Now()
	p.refreshMu.Unlock()

	if err := p.refresh(ctx, key); err != nil {
		provider := p.snapshot()
		return nil, ai.NewError(ai.Classify(err), provider.DisplayName, "", err)
	}
	return p.modelInfos(ctx), nil
}

func (p *Provider) maybeRefresh(ctx context.Context, key string) {
	p.refreshMu.Lock()
	now := p.deps.Now()
	if p.refreshing || (!p.lastRefresh.IsZero() && now.Sub(p.lastRefresh) < p.refreshInterval) {
		p.refreshMu.Unlock()
		return
	}
	p.refreshing = true
	p.lastRefresh = now
	p.refreshMu.Unlock()

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		defer func() {
			p.refreshMu.Lock()
			p.refreshing = false
			p.refreshMu.Unlock()
		}()

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discoveryTimeout)
		defer cancel()
		if err := p.refresh(refreshCtx, key); err != nil {
			p.logger.WarnContext(refreshCtx, "model refresh failed",
				slog.String(observability.AttrErrorKind, ai.Classify(err).String()),
				slog.String(observability.AttrError, err.Error()),
			)
		}
	}()
}

// refresh discovers models, merges them into the catalog, caches them and,
// when the catalog changed, writes it back to the configuration file.
func (p *Provider) refresh(ctx context.Context, key string) error {
	provider := p.snapshot()
	endpoint := ai.Endpoint{
		BaseURL: provider.BaseURL,
		APIKey:  key,
		Headers: config.StringMap(provider.CustomHeader),
		Client:  p.deps.HTTPClient,
	}
	limiter := p.limiter(true)
	label := provider.Key + " list models"

	start := time.Now()
	infos, err := retry.Do(ctx, p.deps.Retry, func(ctx context.Context) ([]ai.ModelInfo, error) {
		if err := limiter.Throttle(ctx, label); err != nil {
			return nil, err
		}
		return p.discover(ctx, endpoint)
	}, ai.IsTransient, label)
	if err != nil {
		return err
	}

	discovered := make([]config.ModelConfig, 0, len(infos))
	for _, info := range infos {
		discovered = append(discovered, modelFromInfo(info))
	}
	if p.deps.Cache != nil {
		p.deps.Cache.CacheModels(ctx, provider.Key, discovered, modelcache.HashAPIKey(key))
	}

	merged := config.MergeCatalog(p.configured, discovered)
	changed := p.catalogChanged(merged)
	p.logger.InfoContext(ctx, "models discovered",
		slog.Int(observability.AttrModelCount, len(discovered)),
		slog.Bool("changed", changed),
		slog.Duration(observability.AttrDuration, time.Since(start)),
	)
	if !changed {
		return nil
	}

	p.setModels(merged)
	if p.deps.WriteConfig != nil {
		if err := p.deps.WriteConfig(provider.Key, merged); err != nil {
			p.logger.WarnContext(ctx, "writing refreshed catalog failed",
				slog.String(observability.AttrError, utils.TruncateString(err.Error(), 300)),
			)
		}
	}
	return nil
}

// modelInfos renders the catalog, flagging the remembered selection.
func (p *Provider) modelInfos(ctx context.Context) []ai.ModelInfo {
	provider := p.snapshot()

	selected := ""
	if p.deps.Cache != nil {
		if selection, ok := p.deps.Cache.GetLastSelectedModel(ctx, provider.Key); ok {
			selected = selection.ModelID
		}
	}

	infos := make([]ai.ModelInfo, 0, len(provider.Models))
	for _, model := range provider.Models {
		info := model.ModelInfo(provider)
		info.IsDefault = model.ID == selected
		infos = append(infos, info)
	}
	return infos
}

// catalogChanged compares models with the live catalog once both carry
// their defaults.
func (p *Provider) catalogChanged(models []config.ModelConfig) bool {
	provider := p.snapshot()
	return !config.SameCatalog(provider.Models, provider.WithModels(models).Normalize().Models)
}

func modelFromInfo(info ai.ModelInfo) config.ModelConfig {
	return config.ModelConfig{
		ID:              info.ID,
		Name:            info.Name,
		MaxInputTokens:  info.MaxInputTokens,
		MaxOutputTokens: info.MaxOutputTokens,
		Capabilities: config.Capabilities{
			ToolCalling: info.Capabilities.ToolCalling,
			ImageInput:  info.Capabilities.ImageInput,
		},
	}
}
