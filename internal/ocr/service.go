package ocr

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// NewEngine creates the engine named by config.Engine. An empty name picks
// Tesseract when it is linked in and the vision API otherwise.
func NewEngine(config Config) (Engine, error) {
	name := strings.ToLower(strings.TrimSpace(config.Engine))
	if name == "" {
		name = "vision"
		if TesseractAvailable() {
			name = "tesseract"
		}
	}

	var (
		engine Engine
		err    error
	)
	switch name {
	case "tesseract":
		engine, err = NewTesseractEngine(config)
	case "vision":
		engine, err = NewVisionEngine(config)
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", config.Engine)
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("engine", engine.Name()).Msg("OCR engine ready")
	return engine, nil
}
