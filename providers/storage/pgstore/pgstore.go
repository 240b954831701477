package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leofalp/aimux/providers/storage"
)

// defaultTableName is used when WithTableName is not given.
const defaultTableName = "aimux_kv"

// Querier abstracts the pgx query methods the store needs.
// Both *pgxpool.Pool and pgx.Tx satisfy this interface.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements storage.Store on PostgreSQL. Concurrency is handled by the
// database; each statement is atomic on its own.
type Store struct {
	db        Querier
	tableName string
	indexName string
}

var _ storage.Store = (*Store)(nil)

// Option configures optional Store behavior.
type Option func(*Store)

// WithTableName overrides the default table name. The name is quoted with
// pgx.Identifier because it is interpolated into the SQL text.
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = pgx.Identifier{name}.Sanitize()
		s.indexName = pgx.Identifier{"idx_" + name + "_key"}.Sanitize()
	}
}

// New returns a Store using db.
func New(db Querier, opts ...Option) *Store {
	store := &Store{
		db:        db,
		tableName: defaultTableName,
		indexName: "idx_" + defaultTableName + "_key",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.tableName)

	var value string
	err := s.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pgstore: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.tableName)

	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("pgstore: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.tableName)

	if _, err := s.db.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("pgstore: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\' ORDER BY key ASC`, s.tableName)

	rows, err := s.db.Query(ctx, query, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("pgstore: keys %q: %w", prefix, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("pgstore: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: keys %q: %w", prefix, err)
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal prefix into a LIKE pattern. Model cache keys
// contain underscores, which LIKE would otherwise treat as wildcards.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
