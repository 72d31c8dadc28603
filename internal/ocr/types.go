package ocr

import (
	"context"
	"errors"

	"scanreader/internal/models"
)

var (
	// ErrEngineUnavailable is returned when no recognition backend is configured.
	ErrEngineUnavailable = errors.New("ocr engine is not available")
	// ErrUnknownPipeline is returned for an unrecognised pre-processing step.
	ErrUnknownPipeline = errors.New("unknown image processing pipeline")
)

// Engine defines the interface for OCR operations
type Engine interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// SortedLanguages lists the recognition languages, ordered for display
	SortedLanguages(ctx context.Context) ([]models.Language, error)

	// PreprocessAndRecognize runs the request's pipelines on its image and
	// recognises the text. It blocks and must not be called on the UI loop.
	PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error)
}

// Config holds configuration for OCR engines
type Config struct {
	// Engine selects the backend: "tesseract" or "vision"
	Engine string

	// Tesseract configuration
	TessdataPrefix string
	Languages      []string

	// Vision API configuration (OpenAI compatible)
	VisionAPIKey     string
	VisionBaseURL    string
	VisionModel      string
	VisionRatePerMin int
}
