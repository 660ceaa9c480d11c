package sqlite

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/shelf/pkg/types"
)

// setupBackend creates an attached Backend rooted in a temp directory and
// detaches it on cleanup.
func setupBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
		DBName:  "test_db",
	}))
	t.Cleanup(func() { b.Detach() })
	return b
}

// setupTestDB opens a bare SQLite database with the document schema in a
// temp directory, for loader tests that bypass Attach.
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range schemaDDL {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db, dir
}

// writeFile writes content to dir/name.
func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// mustCollection returns the named collection or fails the test.
func mustCollection(t *testing.T, b *Backend, name string) types.Collection {
	t.Helper()
	c, err := b.Collection(name)
	require.NoError(t, err)
	return c
}

// assertNoTempFiles fails if a staged JSONL temp file is left in dir.
func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(dir, ".jsonl-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
