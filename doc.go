// Package aimux is the composition root of the multiplexer. A [Mux] owns the
// process-wide services (account manager, model cache, rate limiters, retry
// executor) and the provider registry built over them, and exposes one
// [ai.ChatProvider] per configured provider key.
//
// Typical use:
//
//	mux := aimux.New(
//	    aimux.WithConfigPath("providers.yaml"),
//	    aimux.WithStore(store),
//	)
//	result, err := mux.Init(ctx)
//	if err != nil {
//	    return err
//	}
//	defer mux.Shutdown(context.Background())
//	for _, failure := range result.Failed {
//	    log.Printf("skipped %s: %v", failure.ProviderKey, failure.Cause)
//	}
//
//	provider, err := mux.Provider(ctx, "openai")
//	stream, err := provider.ChatCompletion(ctx, "gpt-4o", messages, ai.ChatOptions{})
//
// Adapters are built lazily on the first Provider call. Providers with a
// specialized adapter (currently the local Ollama daemon) are selected from a
// fixed factory table; all others use the generic configuration-driven
// adapter.
package aimux
