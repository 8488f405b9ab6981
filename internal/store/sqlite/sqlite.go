// Package sqlite implements the store.Store contract on a local SQLite
// database via the CGO-free modernc.org/sqlite driver. Text search uses an
// FTS5 virtual table kept in sync by triggers; vectors are packed float32
// blobs compared in Go; the link graph is traversed with an in-process BFS.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/mnemosyne-core/mnemosyne/internal/store"
	"github.com/mnemosyne-core/mnemosyne/pkg/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteHeader is the 16-byte signature every SQLite-family database file
// starts with.
var sqliteHeader = []byte("SQLite format 3\x00")

// Store implements store.Store backed by a single SQLite database file
// (or an in-memory database for tests).
type Store struct {
	db   *sql.DB
	path string
}

// Options controls how the database is opened.
type Options struct {
	// RequireExists makes Open fail with ErrDatabaseNotFound when the
	// database file does not exist yet, instead of creating it. The CLI
	// sets this for every operation except `init`.
	RequireExists bool
}

// Open opens (or creates) the SQLite database at path, validates the file
// header when the file already exists, runs pending migrations, and performs
// a write-capability health check. WAL self-healing: if the initial open
// fails due to stale WAL files left by a crashed process, it verifies no
// other process holds them and retries once after removing them.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if path != ":memory:" {
		if err := validateFile(path, opts.RequireExists); err != nil {
			return nil, err
		}
	}

	s, err := open(ctx, path)
	if err == nil {
		return s, nil
	}

	dbPath := dbPathFromDSN(path)
	if !isRecoverableWALError(err) || dbPath == "" {
		return nil, err
	}
	if !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	s, retryErr := open(ctx, path)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", path)
	return s, nil
}

func open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load.
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, classifyOpenError(path, fmt.Errorf("sqlite: %s: %w", pragma, err))
		}
	}

	files, err := store.LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	migrator, err := store.NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, classifyOpenError(path, err)
	}
	if err := migrator.Up(ctx, files); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path}
	if report, err := s.CheckIntegrity(ctx); err != nil {
		db.Close()
		return nil, err
	} else if !report.OK {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %s", model.ErrDatabaseCorrupt, path, strings.Join(report.Problems, "; "))
	}
	return s, nil
}

// validateFile checks that the file at path, when it exists, carries a valid
// SQLite-family signature, and that it exists at all when required to.
func validateFile(path string, requireExists bool) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		if requireExists {
			return model.DatabaseNotFoundError(path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("sqlite: failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		// A zero-byte file is what sql.Open leaves behind before the first
		// write; treat it as a fresh database.
		return nil
	}

	header := make([]byte, len(sqliteHeader))
	if _, err := f.Read(header); err != nil {
		return fmt.Errorf("sqlite: failed to read header of %s: %w", path, err)
	}
	if !bytes.Equal(header, sqliteHeader) {
		return fmt.Errorf("%w: %s", model.ErrDatabaseCorrupt, path)
	}
	return nil
}

// classifyOpenError maps driver errors onto the error taxonomy so callers
// can distinguish read-only databases from corruption.
func classifyOpenError(path string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") ||
		strings.Contains(msg, "attempt to write a readonly database") ||
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %s: %v", model.ErrReadOnlyDatabase, path, err)
	case strings.Contains(msg, "not a database") || strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "malformed"):
		return fmt.Errorf("%w: %s: %v", model.ErrDatabaseCorrupt, path, err)
	default:
		return err
	}
}

// CheckIntegrity issues a trivial query, then attempts create+drop of a
// disposable table to confirm write capability. Read-only and permission
// errors surface as ErrReadOnlyDatabase.
func (s *Store) CheckIntegrity(ctx context.Context) (store.IntegrityReport, error) {
	report := store.IntegrityReport{OK: true}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return store.IntegrityReport{}, classifyOpenError(s.path, fmt.Errorf("sqlite: health probe: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _health_probe (id INTEGER)"); err != nil {
		return store.IntegrityReport{}, classifyOpenError(s.path, fmt.Errorf("sqlite: health probe write: %w", err))
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS _health_probe"); err != nil {
		return store.IntegrityReport{}, classifyOpenError(s.path, fmt.Errorf("sqlite: health probe drop: %w", err))
	}

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return store.IntegrityReport{}, fmt.Errorf("sqlite: integrity check: %w", err)
	}
	if result != "ok" {
		report.OK = false
		report.Problems = append(report.Problems, result)
	}
	return report, nil
}

// TableExists reports whether a table of the given name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: TableExists: %w", err)
	}
	return count > 0, nil
}

// AppliedMigrations returns every applied migration's name and timestamp.
func (s *Store) AppliedMigrations(ctx context.Context) ([]store.MigrationRecord, error) {
	migrator, err := store.NewMigrator(s.db)
	if err != nil {
		return nil, err
	}
	return migrator.AppliedMigrations(ctx)
}

// DB exposes the underlying handle for maintenance tooling (export).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so another process
// can open the database without encountering stale WAL state.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlite: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles bare
// paths and file: URIs. Returns "" for in-memory databases.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" {
			return ""
		}
		return path
	}
	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof). Returns false if
// lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no process holds the files — that means stale.
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
