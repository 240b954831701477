// Package main is the aimux command line. It lists and refreshes the models
// of the configured providers, streams chat completions and manages accounts
// and the model cache.
//
// State (accounts, credentials, cached catalogs) lives in a JSON file under
// ~/.aimux, or in PostgreSQL when AIMUX_DATABASE_URL is set. A .env file in
// the working directory is loaded on start.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/leofalp/aimux"
	"github.com/leofalp/aimux/core/middleware"
	"github.com/leofalp/aimux/providers/observability/slogobs"

	_ "github.com/joho/godotenv/autoload"
)

var (
	version = "dev"

	configPath string
	statePath  string
	writeBack  bool
	timeout    time.Duration
	verbose    bool

	mux        *aimux.Mux
	closeStore = func() {}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := execute(ctx, newRootCmd())
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs the command line and releases what setup opened, also when
// the command failed.
func execute(ctx context.Context, rootCmd *cobra.Command) error {
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, teardown())
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aimux",
		Short: "One interface to many chat-completion backends",
		Long: `aimux talks to every provider in the provider file through one
interface, with per-provider rate limits, retries, multiple accounts and a
cached model catalog.

Environment:
  AIMUX_CONFIG         provider file (default ~/.aimux/providers.yaml)
  AIMUX_DATABASE_URL   keep state in PostgreSQL instead of a local file
  AIMUX_LOG_LEVEL      trace, debug, info, warn or error
  AIMUX_LOG_FORMAT     compact, pretty or json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd.Context(), cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", envOr("AIMUX_CONFIG", aimuxPath("providers.yaml")), "provider file")
	flags.StringVar(&statePath, "state", aimuxPath("state.json"), "state file when no database is configured")
	flags.BoolVar(&writeBack, "write-back", false, "write refreshed catalogs back into the provider file")
	flags.DurationVar(&timeout, "timeout", 5*time.Minute, "upper bound for one chat stream")
	flags.BoolVarP(&verbose, "verbose", "v", false, "trace requests and log their bodies")

	rootCmd.AddCommand(
		modelsCmd(),
		chatCmd(),
		tokensCmd(),
		accountsCmd(),
		cacheCmd(),
		versionCmd(),
	)
	return rootCmd
}

func setup(ctx context.Context, cmd *cobra.Command) error {
	observer := slogobs.New()
	logger := observer.Logger()
	slog.SetDefault(logger)

	store, closer, err := openStore(ctx)
	if err != nil {
		return err
	}
	closeStore = closer

	logLevel := middleware.LogLevelMinimal
	if verbose {
		logLevel = middleware.LogLevelVerbose
	}

	opts := []aimux.Option{
		aimux.WithConfigPath(configPath),
		aimux.WithStore(store),
		aimux.WithLogger(logger),
		aimux.WithFingerprint(version),
		aimux.WithTimeout(timeout),
		aimux.WithLogLevel(logLevel),
		aimux.WithWriteBack(writeBack),
	}
	if verbose {
		opts = append(opts, aimux.WithObserver(observer))
	}
	if isInteractive() {
		opts = append(opts, aimux.WithPrompter(promptCredential))
	}
	mux = aimux.New(opts...)

	result, err := mux.Init(ctx)
	if err != nil {
		return err
	}
	for _, failure := range result.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: provider %s skipped: %v\n", failure.ProviderKey, failure.Cause)
	}
	return nil
}

// teardown shuts the multiplexer down and closes the store. Calling it
// again, or without setup, does nothing.
func teardown() error {
	defer func() {
		closeStore()
		closeStore = func() {}
	}()
	if mux == nil {
		return nil
	}
	current := mux
	mux = nil

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return current.Shutdown(ctx)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the aimux version",
		// No provider file or state is needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "aimux", version)
		},
	}
}

// aimuxPath returns a path under ~/.aimux.
func aimuxPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".aimux", name)
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
