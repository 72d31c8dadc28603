package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"scanreader/internal/metrics"
	"scanreader/internal/models"
	"scanreader/internal/ocr"
)

// ExtractionParams describes a batch scan of every page of a document.
type ExtractionParams struct {
	Document   Document
	Engine     ocr.Engine
	Options    models.OcrOptions
	OutputPath string
	Metrics    *metrics.Metrics
}

type ExtractionSummary struct {
	Pages     int  `json:"pages"`
	PagesDone int  `json:"pagesDone"`
	Aborted   bool `json:"aborted"`
}

// Extraction is a running batch scan. Progress is reported once per page,
// in page order, and the channel is closed when the run ends.
type Extraction struct {
	ID         string
	OutputPath string
	Total      int

	progress chan models.ExtractionProgress
	cancel   context.CancelFunc
	done     chan struct{}

	summary ExtractionSummary
	err     error
}

// StartExtraction runs params in a new goroutine. Pages are recognised one
// after the other and each page's text is flushed to the output file before
// its progress is reported, so an aborted run leaves every finished page on
// disk.
func StartExtraction(ctx context.Context, params ExtractionParams) *Extraction {
	ctx, cancel := context.WithCancel(ctx)
	total := params.Document.PageCount()
	e := &Extraction{
		ID:         uuid.NewString(),
		OutputPath: params.OutputPath,
		Total:      total,
		progress:   make(chan models.ExtractionProgress, total),
		cancel:     cancel,
		done:       make(chan struct{}),
		summary:    ExtractionSummary{Pages: total},
	}

	go func() {
		defer close(e.done)
		defer close(e.progress)
		defer cancel()
		e.err = e.run(ctx, params)
	}()
	return e
}

func (e *Extraction) Progress() <-chan models.ExtractionProgress { return e.progress }

func (e *Extraction) Done() <-chan struct{} { return e.done }

// Abort stops the run before the next page. The page being recognised
// is abandoned and nothing already written is removed.
func (e *Extraction) Abort() { e.cancel() }

func (e *Extraction) Wait() (ExtractionSummary, error) {
	<-e.done
	return e.summary, e.err
}

func (e *Extraction) run(ctx context.Context, params ExtractionParams) error {
	started := time.Now()
	out, err := os.Create(params.OutputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	log.Info().
		Str("extraction", e.ID).
		Str("document", params.Document.URI().String()).
		Str("output", params.OutputPath).
		Int("pages", e.Total).
		Msg("text extraction started")

	for page := 0; page < e.Total; page++ {
		if ctx.Err() != nil {
			return e.aborted(page)
		}

		text, err := e.scanPage(ctx, params, page)
		if err != nil {
			if ctx.Err() != nil {
				return e.aborted(page)
			}
			return fmt.Errorf("scan page %d of %d: %w", page+1, e.Total, err)
		}

		if _, err := w.WriteString(text + "\n"); err != nil {
			return fmt.Errorf("write page %d: %w", page+1, err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("flush page %d: %w", page+1, err)
		}

		e.summary.PagesDone = page + 1
		params.Metrics.ExtractionPage()
		e.progress <- models.ExtractionProgress{
			Page:     page,
			Total:    e.Total,
			Fraction: float64(page+1) / float64(e.Total),
		}
	}

	log.Info().
		Str("extraction", e.ID).
		Int("pages", e.Total).
		Dur("elapsed", time.Since(started)).
		Msg("text extraction complete")
	return nil
}

func (e *Extraction) scanPage(ctx context.Context, params ExtractionParams, page int) (string, error) {
	img, err := params.Document.PageImage(ctx, page, params.Options.ZoomFactor)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	req := models.NewOcrRequest(
		params.Options.Language,
		img,
		params.Options.ImageProcessingPipelines,
		models.NewRequestToken(page, 0, 0),
	)
	result, err := params.Engine.PreprocessAndRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return result.RecognizedText, nil
}

func (e *Extraction) aborted(page int) error {
	e.summary.Aborted = true
	log.Info().Str("extraction", e.ID).Int("pages_done", page).Int("pages", e.Total).Msg("text extraction aborted")
	return nil
}

// Status maps the outcome of Wait to a persisted run status.
func (s ExtractionSummary) Status(err error) models.ExtractionStatus {
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		return models.ExtractionFailed
	case s.Aborted || err != nil:
		return models.ExtractionAborted
	default:
		return models.ExtractionComplete
	}
}
