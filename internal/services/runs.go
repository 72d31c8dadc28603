package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scanreader/internal/models"
)

// RunService persists batch extraction runs.
type RunService struct {
	db *sql.DB
}

func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

func (s *RunService) Start(ctx context.Context, documentPath, outputPath string, pages int) (*models.ExtractionRun, error) {
	run := &models.ExtractionRun{
		ID:           uuid.NewString(),
		DocumentPath: documentPath,
		OutputPath:   outputPath,
		Pages:        pages,
		Status:       models.ExtractionRunning,
		StartedAt:    time.Now().UTC(),
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_runs (id, document_path, output_path, pages, pages_done, status, started_at)
		VALUES (?, ?, ?, ?, 0, ?, ?);
	`, run.ID, run.DocumentPath, run.OutputPath, run.Pages, run.Status, run.StartedAt); err != nil {
		return nil, fmt.Errorf("insert extraction run: %w", err)
	}
	return run, nil
}

func (s *RunService) UpdateProgress(ctx context.Context, id string, pagesDone int) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE extraction_runs SET pages_done = ? WHERE id = ?;
	`, pagesDone, id); err != nil {
		return fmt.Errorf("update extraction progress: %w", err)
	}
	return nil
}

func (s *RunService) Finish(ctx context.Context, id string, status models.ExtractionStatus, pagesDone int, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{Valid: true, String: runErr.Error()}
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE extraction_runs SET status = ?, pages_done = ?, error = ?, finished_at = ? WHERE id = ?;
	`, status, pagesDone, msg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("finish extraction run: %w", err)
	}
	return nil
}

func (s *RunService) Get(ctx context.Context, id string) (*models.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_path, output_path, pages, pages_done, status, error, started_at, finished_at
		FROM extraction_runs WHERE id = ?;
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("extraction run %s not found", id)
		}
		return nil, err
	}
	return run, nil
}

func (s *RunService) List(ctx context.Context, limit int) ([]models.ExtractionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_path, output_path, pages, pages_done, status, error, started_at, finished_at
		FROM extraction_runs ORDER BY started_at DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list extraction runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ExtractionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.ExtractionRun, error) {
	var run models.ExtractionRun
	if err := row.Scan(
		&run.ID,
		&run.DocumentPath,
		&run.OutputPath,
		&run.Pages,
		&run.PagesDone,
		&run.Status,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan extraction run: %w", err)
	}
	return &run, nil
}
