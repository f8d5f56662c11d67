package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the version recorded after migrations apply
const SchemaVersion = 1

// schema is portable between SQLite and PostgreSQL; {{BLOB}} is the binary column type
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fragrances (
		id TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		name_key TEXT NOT NULL DEFAULT '',
		brand_id TEXT NOT NULL DEFAULT '',
		brand_name TEXT NOT NULL,
		fragrance_line TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '[]',
		family TEXT NOT NULL DEFAULT '',
		concentration TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		embedding {{BLOB}},
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fragrances_normalized_name ON fragrances(normalized_name)`,
	`CREATE INDEX IF NOT EXISTS idx_fragrances_name_key ON fragrances(name_key)`,
	`CREATE TABLE IF NOT EXISTS fragrance_variants (
		id TEXT PRIMARY KEY,
		canonical_id TEXT NOT NULL REFERENCES fragrances(id) ON DELETE CASCADE,
		variant_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		is_malformed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_variants_normalized_name ON fragrance_variants(normalized_name)`,
	`CREATE TABLE IF NOT EXISTS missing_products (
		normalized_query TEXT PRIMARY KEY,
		display_query TEXT NOT NULL,
		brand_hint TEXT NOT NULL DEFAULT '',
		request_count BIGINT NOT NULL,
		unique_requester_count BIGINT NOT NULL DEFAULT 0,
		priority_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		first_seen BIGINT NOT NULL,
		last_seen BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_missing_priority ON missing_products(priority_score)`,
	`CREATE TABLE IF NOT EXISTS missing_product_requesters (
		normalized_query TEXT NOT NULL REFERENCES missing_products(normalized_query) ON DELETE CASCADE,
		requester_id TEXT NOT NULL,
		PRIMARY KEY (normalized_query, requester_id)
	)`,
	`CREATE TABLE IF NOT EXISTS missing_product_notifications (
		normalized_query TEXT NOT NULL,
		email TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (normalized_query, email)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.driver == DriverPostgres {
		blob = "BYTEA"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, strings.ReplaceAll(stmt, "{{BLOB}}", blob)); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO schema_version (version, applied_at) VALUES (?, ?)
		ON CONFLICT (version) DO NOTHING`),
		SchemaVersion, toMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
