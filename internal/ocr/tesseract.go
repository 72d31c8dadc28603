//go:build cgo && ocr

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog/log"

	"scanreader/internal/models"
)

// TesseractEngine recognises text with the local Tesseract installation.
type TesseractEngine struct {
	tessdataPrefix string
	allowed        map[string]bool
}

// NewTesseractEngine creates a Tesseract engine. Languages, when set,
// restricts the installed traineddata files offered to the user.
func NewTesseractEngine(cfg Config) (*TesseractEngine, error) {
	if cfg.TessdataPrefix != "" {
		if err := os.Setenv("TESSDATA_PREFIX", cfg.TessdataPrefix); err != nil {
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}

	var allowed map[string]bool
	if len(cfg.Languages) > 0 {
		allowed = make(map[string]bool, len(cfg.Languages))
		for _, code := range cfg.Languages {
			allowed[code] = true
		}
	}

	log.Debug().
		Str("tessdata_prefix", cfg.TessdataPrefix).
		Strs("languages", cfg.Languages).
		Msg("Tesseract engine initialized")

	return &TesseractEngine{tessdataPrefix: cfg.TessdataPrefix, allowed: allowed}, nil
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) SortedLanguages(ctx context.Context) ([]models.Language, error) {
	codes, err := gosseract.GetAvailableLanguages()
	if err != nil {
		return nil, fmt.Errorf("list tesseract languages: %w", err)
	}
	if e.allowed != nil {
		filtered := codes[:0]
		for _, code := range codes {
			if e.allowed[code] {
				filtered = append(filtered, code)
			}
		}
		codes = filtered
	}
	return languagesFromCodes(codes), nil
}

func (e *TesseractEngine) PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error) {
	img, err := Preprocess(req.Image, req.ImageProcessingPipelines)
	if err != nil {
		return models.OcrResult{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return models.OcrResult{}, fmt.Errorf("encode page image: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return models.OcrResult{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(req.Language.Code); err != nil {
		return models.OcrResult{}, fmt.Errorf("set language %s: %w", req.Language.Code, err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return models.OcrResult{}, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return models.OcrResult{}, fmt.Errorf("tesseract recognize: %w", err)
	}

	return models.OcrResult{Cookie: req.Cookie, RecognizedText: strings.TrimSpace(text)}, nil
}

// TesseractAvailable reports whether this binary was built with Tesseract.
func TesseractAvailable() bool { return true }
