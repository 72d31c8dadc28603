package models

import (
	"database/sql"
	"image"
	"time"

	"github.com/google/uuid"
)

// NoPage marks a request that is not tied to a document page.
const NoPage = -1

// Language is an OCR language as reported by an engine.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	RTL  bool   `json:"rtl"`
}

func (l Language) IsRTL() bool { return l.RTL }

// OcrOptions holds the parameters chosen for a scan.
type OcrOptions struct {
	Language                 Language `json:"language"`
	ZoomFactor               float64  `json:"zoomFactor"`
	ImageProcessingPipelines []string `json:"imageProcessingPipelines,omitempty"`
	StoreOptions             bool     `json:"storeOptions"`
}

// RequestToken correlates an asynchronous OCR request with its result.
type RequestToken struct {
	ID         string `json:"id"`
	Page       int    `json:"page"`
	Generation uint64 `json:"generation"`
	Epoch      uint64 `json:"epoch"`
}

// NewRequestToken returns a token with a fresh random ID.
func NewRequestToken(page int, generation, epoch uint64) RequestToken {
	return RequestToken{
		ID:         uuid.NewString(),
		Page:       page,
		Generation: generation,
		Epoch:      epoch,
	}
}

func (t RequestToken) HasPage() bool { return t.Page != NoPage }

// OcrRequest is passed to an engine. Build it with NewOcrRequest.
type OcrRequest struct {
	Language                 Language
	Image                    image.Image
	ImageProcessingPipelines []string
	Cookie                   RequestToken
}

func NewOcrRequest(lang Language, img image.Image, pipelines []string, cookie RequestToken) OcrRequest {
	return OcrRequest{
		Language:                 lang,
		Image:                    img,
		ImageProcessingPipelines: append([]string(nil), pipelines...),
		Cookie:                   cookie,
	}
}

// OcrResult is produced by an engine; Cookie echoes the request's.
type OcrResult struct {
	Cookie         RequestToken `json:"cookie"`
	RecognizedText string       `json:"recognizedText"`
}

// ExtractionProgress is emitted after each page of a batch extraction.
type ExtractionProgress struct {
	Page     int     `json:"page"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
}

type ExtractionStatus string

const (
	ExtractionRunning  ExtractionStatus = "running"
	ExtractionComplete ExtractionStatus = "complete"
	ExtractionAborted  ExtractionStatus = "aborted"
	ExtractionFailed   ExtractionStatus = "failed"
)

type ExtractionRun struct {
	ID           string
	DocumentPath string
	OutputPath   string
	Pages        int
	PagesDone    int
	Status       ExtractionStatus
	Error        sql.NullString
	StartedAt    time.Time
	FinishedAt   sql.NullTime
}

// ConvertedDocument records a Word file already converted to HTML.
type ConvertedDocument struct {
	ID          int64     `json:"id"`
	SourcePath  string    `json:"sourcePath"`
	ContentHash string    `json:"contentHash"`
	HTMLPath    string    `json:"htmlPath"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"createdAt"`
}
