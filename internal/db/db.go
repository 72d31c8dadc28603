package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			uploaded_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS converted_documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_path TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			html_path TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id TEXT PRIMARY KEY,
			document_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			pages INTEGER NOT NULL,
			pages_done INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK(status IN ('running','complete','aborted','failed')),
			error TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_runs_started ON extraction_runs(started_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}

	// Runs left running by a crash can never finish.
	if _, err := db.Exec(`
		UPDATE extraction_runs SET status = 'failed', error = 'interrupted', finished_at = ?
		WHERE status = 'running';
	`, time.Now().UTC()); err != nil {
		return fmt.Errorf("close interrupted runs: %w", err)
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
