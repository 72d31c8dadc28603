// Package app wires the reader's services from a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"scanreader/internal/config"
	"scanreader/internal/db"
	"scanreader/internal/events"
	"scanreader/internal/metrics"
	"scanreader/internal/ocr"
	"scanreader/internal/services"
	"scanreader/internal/uiloop"
	"scanreader/internal/view"
	"scanreader/internal/worker"
)

const loopBuffer = 256

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Metrics   *metrics.Metrics
	Engine    ocr.Engine
	Loop      *uiloop.Loop
	Pool      *worker.Pool
	Events    *events.Registry
	Session   *services.ReaderSession
	OCR       *services.OCRService
	Documents *services.DocumentService
	Runs      *services.RunService
	Word      *services.WordConverter
}

// New builds the services against v and dialogs. A nil engine is created
// from cfg.OCR.
func New(cfg *config.Config, engine ocr.Engine, v view.View, dialogs view.Dialogs) (*App, error) {
	conn, err := db.Open(cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if engine == nil {
		engine, err = ocr.NewEngine(cfg.OCR.EngineConfig())
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create ocr engine: %w", err)
		}
	}

	m := metrics.New()
	documents := services.NewDocumentService(conn, cfg.Storage.UploadDir)
	runs := services.NewRunService(conn)
	word := services.NewWordConverter(cfg.Storage.DataDir, nil, documents, m)

	var renderer services.PageRenderer
	gs := &services.GhostscriptRenderer{Binary: cfg.OCR.Ghostscript}
	if gs.Available() {
		renderer = gs
	} else {
		log.Warn().Str("binary", cfg.OCR.Ghostscript).Msg("ghostscript not found, PDFs open as text only")
	}

	registry := events.NewRegistry()
	loop := uiloop.New(loopBuffer)
	pool := worker.NewPool(cfg.OCR.Workers)
	session := services.NewReaderSession(services.NewDefaultLoader(renderer, word), registry, v)
	svc := services.NewOCRService(engine, session, v, dialogs, loop, pool, m, runs)

	return &App{
		Config:    cfg,
		DB:        conn,
		Metrics:   m,
		Engine:    engine,
		Loop:      loop,
		Pool:      pool,
		Events:    registry,
		Session:   session,
		OCR:       svc,
		Documents: documents,
		Runs:      runs,
		Word:      word,
	}, nil
}

// Start runs the UI loop in the background until ctx is done.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Loop.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ui loop stopped")
		}
	}()
}

// Do runs fn on the UI loop and returns its error.
func (a *App) Do(ctx context.Context, fn func() error) error {
	var err error
	if callErr := a.Loop.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

// Close waits for OCR work, stops the loop and closes the database.
func (a *App) Close() error {
	a.Pool.Close()
	a.Loop.Stop()
	return a.DB.Close()
}
