package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// MigrationFile is a single named migration's raw SQL content, typically
// sourced from a go:embed FS so the binary ships self-contained.
type MigrationFile struct {
	Name string // e.g. "001_initial_schema"
	SQL  string
}

// LoadMigrations reads every *.sql file from an embedded FS, sorted in
// lexical order (the NNN_ prefix convention guarantees numeric ordering).
func LoadMigrations(fsys fs.FS, dir string) ([]MigrationFile, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("store: failed to read migrations dir: %w", err)
	}
	var files []MigrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("store: failed to read migration %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".sql")
		files = append(files, MigrationFile{Name: name, SQL: string(b)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Migrator applies embedded migration files against a database connection,
// tracking applied migrations by name (not version number) in a
// _migrations_applied table. A migration file is applied at most once per
// database, identified by its name. The SQL splitter understands nested
// BEGIN...END blocks (trigger bodies) and `--` line comments.
type Migrator struct {
	db *sql.DB
	// recordSQL is the dialect-specific INSERT used to record an applied
	// migration ("?" placeholders for SQLite, "$n" for Postgres).
	recordSQL string
}

// NewMigrator constructs a Migrator for SQLite-style placeholders and
// ensures the tracking table exists.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	return newMigrator(db, `INSERT INTO _migrations_applied (name, applied_at) VALUES (?, ?)`)
}

// NewPostgresMigrator constructs a Migrator using $n placeholders.
func NewPostgresMigrator(db *sql.DB) (*Migrator, error) {
	return newMigrator(db, `INSERT INTO _migrations_applied (name, applied_at) VALUES ($1, $2)`)
}

func newMigrator(db *sql.DB, recordSQL string) (*Migrator, error) {
	m := &Migrator{db: db, recordSQL: recordSQL}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations_applied (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return nil, fmt.Errorf("store: failed to create migration tracking table: %w", err)
	}
	return m, nil
}

// Applied returns the set of already-applied migration names.
func (m *Migrator) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name FROM _migrations_applied`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// Up applies every unapplied migration, in order, each inside its own
// transaction, recording the name and apply timestamp on success.
func (m *Migrator) Up(ctx context.Context, files []MigrationFile) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[f.Name] {
			continue
		}
		if err := m.applyOne(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) applyOne(ctx context.Context, f MigrationFile) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin migration tx for %s: %w", f.Name, err)
	}
	defer tx.Rollback()

	statements, err := SplitStatements(f.SQL)
	if err != nil {
		return fmt.Errorf("store: failed to parse migration %s: %w", f.Name, err)
	}
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: failed to apply migration %s: %w", f.Name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, m.recordSQL, f.Name, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: failed to record migration %s: %w", f.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit migration %s: %w", f.Name, err)
	}
	return nil
}

// AppliedMigrations returns every applied migration's name and timestamp,
// ordered by apply time.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name, applied_at FROM _migrations_applied ORDER BY applied_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SplitStatements splits a SQL file into individual statements, honoring
// `--` line comments and tracking BEGIN...END nesting depth so a trigger
// body's internal semicolons never end the statement early — only a `;`
// encountered at nesting depth zero is a statement boundary.
func SplitStatements(sqlText string) ([]string, error) {
	var statements []string
	var current strings.Builder
	depth := 0

	lines := strings.Split(sqlText, "\n")
	for _, line := range lines {
		stripped := stripLineComment(line)
		words := strings.Fields(strings.ToUpper(stripped))
		for _, w := range words {
			if w == "BEGIN" {
				depth++
			} else if w == "END" || w == "END;" {
				if depth > 0 {
					depth--
				}
			}
		}

		current.WriteString(stripped)
		current.WriteString("\n")

		if depth == 0 && strings.Contains(stripped, ";") {
			stmt := current.String()
			if idx := strings.LastIndex(stmt, ";"); idx >= 0 {
				statements = append(statements, stmt[:idx+1])
				current.Reset()
				// preserve anything after the last ';' on this line (rare)
				if idx+1 < len(stmt) {
					current.WriteString(stmt[idx+1:])
				}
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements, nil
}

// stripLineComment removes a trailing `-- ...` line comment, respecting
// that `--` inside a quoted string literal is not a comment.
func stripLineComment(line string) string {
	inString := false
	for i := 0; i < len(line)-1; i++ {
		switch line[i] {
		case '\'':
			inString = !inString
		case '-':
			if !inString && line[i+1] == '-' {
				return line[:i]
			}
		}
	}
	return line
}
