package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchema(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "reader.db"))
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"uploads", "converted_documents", "extraction_runs"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenIsIdempotentAndClosesInterruptedRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reader.db")

	conn, err := Open(path)
	require.NoError(t, err)
	_, err = conn.Exec(`
		INSERT INTO extraction_runs (id, document_path, output_path, pages, status, started_at)
		VALUES ('run-1', 'book.pdf', 'book.txt', 3, 'running', ?);
	`, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn, err = Open(path)
	require.NoError(t, err)
	defer conn.Close()

	var status, msg string
	require.NoError(t, conn.QueryRow(`SELECT status, error FROM extraction_runs WHERE id = 'run-1'`).Scan(&status, &msg))
	assert.Equal(t, "failed", status)
	assert.Equal(t, "interrupted", msg)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "CREATE TABLE x (", firstLine("CREATE TABLE x (\n id INT\n);"))
	assert.Equal(t, "PRAGMA foreign_keys = ON;", firstLine("PRAGMA foreign_keys = ON;"))
}
