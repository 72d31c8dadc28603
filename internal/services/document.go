package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrNoDocument          = errors.New("no document is loaded")
	ErrRenderUnsupported   = errors.New("document cannot render pages")
	ErrPageOutOfRange      = errors.New("page out of range")
	ErrUnsupportedFormat   = errors.New("unsupported document format")
	ErrTooManyRedirections = errors.New("too many document redirections")
)

const maxDocumentHops = 3

// Document is a loaded, paginated document.
type Document interface {
	URI() DocumentURI
	Title() string
	PageCount() int
	CanRenderPages() bool
	// PageImage renders a page; zoom 1 is 72 DPI.
	PageImage(ctx context.Context, page int, zoom float64) (image.Image, error)
	PageText(ctx context.Context, page int) (string, error)
	Close() error
}

// Opener opens a document of one format. It may return a
// *ChangeDocumentError to redirect the loader to another URI.
type Opener func(ctx context.Context, uri DocumentURI) (Document, error)

// DocumentLoader maps formats to openers.
type DocumentLoader struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

func NewDocumentLoader() *DocumentLoader {
	return &DocumentLoader{openers: make(map[string]Opener)}
}

func (l *DocumentLoader) Register(opener Opener, formats ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, format := range formats {
		l.openers[format] = opener
	}
}

// Formats lists the registered formats.
func (l *DocumentLoader) Formats() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	formats := make([]string, 0, len(l.openers))
	for f := range l.openers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// Open opens uri, following document changes.
func (l *DocumentLoader) Open(ctx context.Context, uri DocumentURI) (Document, error) {
	for hop := 0; hop <= maxDocumentHops; hop++ {
		l.mu.RLock()
		opener, ok := l.openers[uri.Format]
		l.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, uri.Format)
		}

		doc, err := opener(ctx, uri)
		if err == nil {
			return doc, nil
		}

		var change *ChangeDocumentError
		if !errors.As(err, &change) {
			return nil, fmt.Errorf("open %s: %w", uri, err)
		}
		log.Debug().
			Str("from", change.OldURI.String()).
			Str("to", change.NewURI.String()).
			Str("reason", change.Reason).
			Msg("document changed")
		uri = change.NewURI
	}
	return nil, fmt.Errorf("open %s: %w", uri, ErrTooManyRedirections)
}

func checkPage(doc Document, page int) error {
	if page < 0 || page >= doc.PageCount() {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, doc.PageCount())
	}
	return nil
}

// NewDefaultLoader registers every format the reader understands. A nil
// renderer opens PDFs as text only; a nil word converter leaves docx out.
func NewDefaultLoader(renderer PageRenderer, word *WordConverter) *DocumentLoader {
	l := NewDocumentLoader()
	l.Register(PDFOpener(renderer), "pdf")
	l.Register(ImageOpener, ImageFormats...)
	l.Register(HTMLOpener, "html")
	if word != nil {
		l.Register(word.Opener(), "docx")
	}
	return l
}
