package pgstore

import (
	"context"
	"fmt"
)

// createTableSQL stores one row per key. updated_at is informational.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// createKeyPatternIndexSQL supports prefix scans with LIKE 'prefix%'.
const createKeyPatternIndexSQL = `CREATE INDEX IF NOT EXISTS %s
    ON %s (key text_pattern_ops)`

// EnsureSchema creates the table and its prefix index if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createTableSQL, s.tableName)); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createKeyPatternIndexSQL, s.indexName, s.tableName)); err != nil {
		return fmt.Errorf("pgstore: create key index: %w", err)
	}
	return nil
}
