package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"scanreader/internal/models"
)

// DocumentService stores uploaded files and remembers Word conversions.
type DocumentService struct {
	db        *sql.DB
	uploadDir string
}

func NewDocumentService(db *sql.DB, uploadDir string) *DocumentService {
	return &DocumentService{db: db, uploadDir: uploadDir}
}

// SaveUpload copies src into the upload directory under a random name that
// keeps the original extension, so the loader can still pick the format.
func (s *DocumentService) SaveUpload(ctx context.Context, original string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure upload dir: %w", err)
	}

	name := uuid.NewString() + filepath.Ext(original)
	storedPath := filepath.Join(s.uploadDir, name)
	out, err := os.Create(storedPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads (original_name, stored_path, uploaded_at)
		VALUES (?, ?, ?);
	`, original, storedPath, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert upload: %w", err)
	}

	return storedPath, nil
}

// RecordConversion upserts the conversion of a source file with the given hash.
func (s *DocumentService) RecordConversion(ctx context.Context, doc models.ConvertedDocument) (*models.ConvertedDocument, error) {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO converted_documents (source_path, content_hash, html_path, title, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			source_path = excluded.source_path,
			html_path = excluded.html_path,
			title = excluded.title,
			author = excluded.author;
	`, doc.SourcePath, doc.ContentHash, doc.HTMLPath, doc.Title, doc.Author, now); err != nil {
		return nil, fmt.Errorf("record conversion: %w", err)
	}
	return s.GetConversion(ctx, doc.ContentHash)
}

func (s *DocumentService) GetConversion(ctx context.Context, hash string) (*models.ConvertedDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_path, content_hash, html_path, title, author, created_at
		FROM converted_documents WHERE content_hash = ?;
	`, hash)
	var doc models.ConvertedDocument
	if err := row.Scan(
		&doc.ID,
		&doc.SourcePath,
		&doc.ContentHash,
		&doc.HTMLPath,
		&doc.Title,
		&doc.Author,
		&doc.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversion %s not found", hash)
		}
		return nil, fmt.Errorf("scan conversion: %w", err)
	}
	return &doc, nil
}

func (s *DocumentService) ListConversions(ctx context.Context, limit int) ([]models.ConvertedDocument, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, content_hash, html_path, title, author, created_at
		FROM converted_documents ORDER BY created_at DESC, id DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	var docs []models.ConvertedDocument
	for rows.Next() {
		var doc models.ConvertedDocument
		if err := rows.Scan(&doc.ID, &doc.SourcePath, &doc.ContentHash, &doc.HTMLPath, &doc.Title, &doc.Author, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
