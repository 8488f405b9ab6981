package store

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatementsSimple(t *testing.T) {
	stmts, err := SplitStatements(`
CREATE TABLE a (id TEXT);
CREATE TABLE b (id TEXT);
`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestSplitStatementsTriggerBody(t *testing.T) {
	sql := `
CREATE TABLE t (id TEXT);

CREATE TRIGGER t_sync AFTER INSERT ON t
BEGIN
    INSERT INTO t_fts(rowid, body) VALUES (new.rowid, new.body);
    INSERT INTO t_log(id) VALUES (new.id);
END;

CREATE INDEX idx_t ON t(id);
`
	stmts, err := SplitStatements(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 3)

	// The trigger body's internal semicolons must not split the statement.
	assert.Contains(t, stmts[1], "CREATE TRIGGER")
	assert.Contains(t, stmts[1], "t_log")
	assert.Contains(t, stmts[1], "END;")
	assert.Contains(t, stmts[2], "CREATE INDEX")
}

func TestSplitStatementsComments(t *testing.T) {
	sql := `
-- leading comment; with a semicolon
CREATE TABLE a (id TEXT); -- trailing comment
CREATE TABLE b (note TEXT DEFAULT 'has -- dashes');
`
	stmts, err := SplitStatements(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.NotContains(t, stmts[0], "leading comment")
	assert.NotContains(t, stmts[0], "trailing comment")
	// A "--" inside a string literal is content, not a comment.
	assert.Contains(t, stmts[1], "has -- dashes")
}

func TestStripLineComment(t *testing.T) {
	assert.Equal(t, "SELECT 1 ", stripLineComment("SELECT 1 -- comment"))
	assert.Equal(t, "SELECT '--' ", stripLineComment("SELECT '--' -- real comment"))
	assert.Equal(t, "no comment here", stripLineComment("no comment here"))
}

func TestLoadMigrationsLexicalOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_second.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
		"migrations/001_first.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
		"migrations/notes.txt":      {Data: []byte("ignored")},
	}
	files, err := LoadMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_first", files[0].Name)
	assert.Equal(t, "002_second", files[1].Name)
}

func TestListOptionsNormalize(t *testing.T) {
	opts := ListOptions{SortBy: "evil; DROP TABLE", SortOrder: "sideways", Page: -1, Limit: 10_000}
	opts.Normalize()
	assert.Equal(t, "created_at", opts.SortBy)
	assert.Equal(t, "desc", opts.SortOrder)
	assert.Equal(t, 1, opts.Page)
	assert.Equal(t, 100, opts.Limit)
	assert.Equal(t, 0, opts.Offset())
}

func TestGraphBoundsNormalize(t *testing.T) {
	var b GraphBounds
	b.Normalize()
	assert.Equal(t, 2, b.MaxHops)
	assert.Equal(t, 200, b.MaxNodes)
	assert.NotZero(t, b.Timeout)

	over := GraphBounds{MaxHops: 50, MaxNodes: 1_000_000}
	over.Normalize()
	assert.Equal(t, 10, over.MaxHops)
	assert.Equal(t, 2000, over.MaxNodes)
}
