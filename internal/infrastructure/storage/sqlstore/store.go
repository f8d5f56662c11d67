// Package sqlstore persists the fragrance catalog and missing-product demand
// in PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/scentmatch/backend/internal/domain"
	"github.com/scentmatch/backend/internal/infrastructure/retry"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds database connection configuration
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectTimeout bounds WaitReady at startup
	ConnectTimeout time.Duration
}

// Store implements domain.CorpusStore, domain.CatalogWriter and
// domain.MissingProductStore on database/sql
type Store struct {
	db     *sql.DB
	driver string
	logger zerolog.Logger
}

var (
	_ domain.CorpusStore         = (*Store)(nil)
	_ domain.CatalogWriter       = (*Store)(nil)
	_ domain.MissingProductStore = (*Store)(nil)
)

// Open connects, waits for the database to accept connections and applies migrations
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite benefits from single writer; it also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{
		db:     db,
		driver: cfg.Driver,
		logger: logger.With().Str("component", "sqlstore").Str("driver", cfg.Driver).Logger(),
	}

	if err := s.WaitReady(ctx, cfg.ConnectTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return s, nil
}

// WaitReady pings the database with backoff until it answers or timeout passes
func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	policy := retry.Policy{
		MaxAttempts:  20,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		TotalTimeout: timeout,
	}

	attempt := 0
	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		attempt++
		err := s.db.PingContext(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("database not ready")
		}
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("database not ready after %d attempts: %w", attempt, err)
	}
	return nil
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns "?, ?, ..." for n arguments
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
