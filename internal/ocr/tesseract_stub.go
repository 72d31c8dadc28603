//go:build !cgo || !ocr

package ocr

import (
	"context"
	"fmt"

	"scanreader/internal/models"
)

// TesseractEngine is a placeholder when built without the ocr tag.
type TesseractEngine struct{}

// NewTesseractEngine always fails; build with -tags ocr and cgo enabled
// to link Tesseract.
func NewTesseractEngine(cfg Config) (*TesseractEngine, error) {
	return nil, fmt.Errorf("tesseract engine: %w (build with -tags ocr)", ErrEngineUnavailable)
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) SortedLanguages(ctx context.Context) ([]models.Language, error) {
	return nil, ErrEngineUnavailable
}

func (e *TesseractEngine) PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error) {
	return models.OcrResult{}, ErrEngineUnavailable
}

func TesseractAvailable() bool { return false }
