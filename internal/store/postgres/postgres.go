// Package postgres implements the store.Store contract on PostgreSQL with
// native full-text search (tsvector + GIN) and pgvector distance operators,
// so vector search and consolidation-candidate selection run server-side
// instead of loading every embedding into Go.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.Store backed by a PostgreSQL connection pool.
type Store struct {
	db  *sql.DB
	dsn string
}

// Open connects to the database at dsn, runs pending migrations, and
// performs a write-capability health check.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}

	files, err := store.LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	migrator, err := store.NewPostgresMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrator.Up(ctx, files); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, dsn: dsn}
	if _, err := s.CheckIntegrity(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CheckIntegrity issues a trivial query, then attempts create+drop of a
// disposable table to confirm write capability.
func (s *Store) CheckIntegrity(ctx context.Context) (store.IntegrityReport, error) {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return store.IntegrityReport{}, fmt.Errorf("postgres: health probe: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _health_probe (id INTEGER)"); err != nil {
		if isPermissionError(err) {
			return store.IntegrityReport{}, fmt.Errorf("%w: %v", model.ErrReadOnlyDatabase, err)
		}
		return store.IntegrityReport{}, fmt.Errorf("postgres: health probe write: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS _health_probe"); err != nil {
		return store.IntegrityReport{}, fmt.Errorf("postgres: health probe drop: %w", err)
	}
	return store.IntegrityReport{OK: true}, nil
}

// TableExists reports whether a table of the given name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1`, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("postgres: TableExists: %w", err)
	}
	return count > 0, nil
}

// AppliedMigrations returns every applied migration's name and timestamp.
func (s *Store) AppliedMigrations(ctx context.Context) ([]store.MigrationRecord, error) {
	migrator, err := store.NewPostgresMigrator(s.db)
	if err != nil {
		return nil, err
	}
	return migrator.AppliedMigrations(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isPermissionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "read-only")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
