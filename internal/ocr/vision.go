package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"scanreader/internal/models"
)

const (
	defaultVisionModel = "gpt-4o-mini"
	visionMaxRetries   = 2
)

// VisionEngine recognises text by sending page images to an OpenAI
// compatible chat completion endpoint.
type VisionEngine struct {
	client    *openai.Client
	model     string
	languages []models.Language
	limiter   *rate.Limiter
	backoff   func(attempt int) time.Duration
}

// NewVisionEngine creates a vision engine from the given configuration
func NewVisionEngine(cfg Config) (*VisionEngine, error) {
	if cfg.VisionAPIKey == "" {
		return nil, fmt.Errorf("vision engine: %w", ErrEngineUnavailable)
	}

	clientCfg := openai.DefaultConfig(cfg.VisionAPIKey)
	if cfg.VisionBaseURL != "" {
		clientCfg.BaseURL = cfg.VisionBaseURL
	}

	model := cfg.VisionModel
	if model == "" {
		model = defaultVisionModel
	}

	codes := cfg.Languages
	if len(codes) == 0 {
		codes = []string{"eng"}
	}

	limit := rate.Inf
	if cfg.VisionRatePerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.VisionRatePerMin))
	}

	return &VisionEngine{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		languages: languagesFromCodes(codes),
		limiter:   rate.NewLimiter(limit, 1),
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}, nil
}

func (e *VisionEngine) Name() string { return "vision" }

func (e *VisionEngine) SortedLanguages(ctx context.Context) ([]models.Language, error) {
	return append([]models.Language(nil), e.languages...), nil
}

func (e *VisionEngine) PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error) {
	img, err := Preprocess(req.Image, req.ImageProcessingPipelines)
	if err != nil {
		return models.OcrResult{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return models.OcrResult{}, fmt.Errorf("encode page image: %w", err)
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	text, err := e.complete(ctx, dataURI, visionPrompt(req.Language))
	if err != nil {
		return models.OcrResult{}, err
	}

	return models.OcrResult{Cookie: req.Cookie, RecognizedText: text}, nil
}

func visionPrompt(lang models.Language) string {
	return fmt.Sprintf(`Transcribe all text visible in this image. The text is written in %s.
Preserve reading order and paragraph breaks. Output only the transcribed text, with no commentary.
If the image contains no text, output nothing.`, lang.Name)
}

func (e *VisionEngine) complete(ctx context.Context, dataURI, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailHigh,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
				},
			},
		},
		Temperature: 0,
		MaxTokens:   4096,
	}

	var lastErr error
	for attempt := 0; attempt <= visionMaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("retrying vision request")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.backoff(attempt)):
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limiter: %w", err)
		}

		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("vision completion: %w", err)
			// Client errors are not retried
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= http.StatusBadRequest && apiErr.HTTPStatusCode < http.StatusInternalServerError {
				return "", lastErr
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = errors.New("vision api returned no choices")
			continue
		}

		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("vision api failed after %d attempts: %w", visionMaxRetries+1, lastErr)
}
