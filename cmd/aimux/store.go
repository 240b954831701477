package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leofalp/aimux/core/accounts"
	"github.com/leofalp/aimux/core/config"
	"github.com/leofalp/aimux/providers/chat"
	"github.com/leofalp/aimux/providers/storage"
	"github.com/leofalp/aimux/providers/storage/filestore"
	"github.com/leofalp/aimux/providers/storage/pgstore"
)

// openStore returns the PostgreSQL store when AIMUX_DATABASE_URL is set and
// the state file otherwise, plus a function releasing it.
func openStore(ctx context.Context) (storage.Store, func(), error) {
	if dsn := os.Getenv("AIMUX_DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("prepare database: %w", err)
		}
		return store, pool.Close, nil
	}

	store, err := filestore.Open(statePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

// isInteractive reports whether stdin is a terminal.
func isInteractive() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// promptCredential asks for an API key on the terminal and stores it as a
// new account. An empty answer leaves the provider without a credential.
var promptCredential = chat.PrompterFunc(func(ctx context.Context, provider config.ProviderConfig) error {
	fmt.Fprintf(os.Stderr, "No credential for %s. API key (empty to skip): ", provider.DisplayName)
	key, err := readLine()
	if err != nil || key == "" {
		return err
	}
	_, err = mux.Accounts().AddAccount(ctx, provider.Key, accounts.Credential{APIKey: key}, "")
	return err
})

func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
