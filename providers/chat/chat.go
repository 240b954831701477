// Package chat holds what every backend adapter is built from: the shared
// Dependencies handed to adapter factories and the hooks a host can plug in.
//
// The adapters themselves live in subpackages: generic serves any provider
// described by configuration, ollama serves a local Ollama daemon.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/leofalp/aimux/core/accounts"
	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/core/middleware"
	"github.com/leofalp/aimux/core/modelcache"
	"github.com/leofalp/aimux/core/ratelimit"
	"github.com/leofalp/aimux/core/retry"
	"github.com/leofalp/aimux/core/tokens"
	"github.com/leofalp/aimux/providers/ai"
	"github.com/leofalp/aimux/providers/observability"
)

// Factory builds the adapter for one provider. provider is already merged
// over its known defaults; known is nil for providers with no known entry.
type Factory func(ctx context.Context, provider config.ProviderConfig, known *config.KnownProviderOverride, deps Dependencies) (ai.ChatProvider, error)

// CredentialPrompter asks the user for a credential interactively, usually
// storing it through the account manager. Adapters call it only for
// non-silent operations and look up the credential again afterwards.
type CredentialPrompter interface {
	PromptCredential(ctx context.Context, provider config.ProviderConfig) error
}

// PrompterFunc adapts a function to CredentialPrompter.
type PrompterFunc func(ctx context.Context, provider config.ProviderConfig) error

func (f PrompterFunc) PromptCredential(ctx context.Context, provider config.ProviderConfig) error {
	return f(ctx, provider)
}

// ConfigWriter persists a refreshed catalog back to the provider file.
type ConfigWriter func(providerKey string, models []config.ModelConfig) error

// Dependencies are the shared services adapters are wired with. Nil fields
// disable the corresponding feature, except Limiters, Retry and Logger,
// which fall back to process defaults.
type Dependencies struct {
	Accounts    *accounts.Manager
	Cache       *modelcache.Cache
	Limiters    *ratelimit.Registry
	Retry       *retry.Executor
	Tokens      *tokens.Counter
	Observer    observability.Provider
	Prompter    CredentialPrompter
	WriteConfig ConfigWriter
	Conventions map[config.SDKMode]ai.Convention
	HTTPClient  *http.Client
	Logger      *slog.Logger
	LogLevel    middleware.LogLevel
	// Timeout bounds a whole stream, establishment to last event.
	Timeout time.Duration
	Now     func() time.Time
}

// WithDefaults fills the fields that have process-wide defaults.
func (d Dependencies) WithDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Limiters == nil {
		d.Limiters = ratelimit.Default()
	}
	if d.Retry == nil {
		d.Retry = retry.New(retry.DefaultConfig(), retry.WithLogger(d.Logger))
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
