package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"scanreader/internal/events"
	"scanreader/internal/view"
)

// ReaderSession holds the open document and the reading position. It is
// owned by the UI loop: call its methods only from functions posted there.
type ReaderSession struct {
	loader *DocumentLoader
	events *events.Registry
	view   view.View

	doc        Document
	page       int
	generation uint64
}

func NewReaderSession(loader *DocumentLoader, registry *events.Registry, v view.View) *ReaderSession {
	return &ReaderSession{loader: loader, events: registry, view: v}
}

func (s *ReaderSession) Events() *events.Registry { return s.events }

// Ready reports whether a document is loaded.
func (s *ReaderSession) Ready() bool { return s.doc != nil }

func (s *ReaderSession) Document() Document { return s.doc }

func (s *ReaderSession) CurrentPage() int { return s.page }

// Generation changes every time a document is loaded or unloaded.
func (s *ReaderSession) Generation() uint64 { return s.generation }

// Open loads uri through the document loader and makes it current.
func (s *ReaderSession) Open(ctx context.Context, uri DocumentURI) error {
	doc, err := s.loader.Open(ctx, uri)
	if err != nil {
		return err
	}
	return s.SetDocument(ctx, doc)
}

// SetDocument replaces the current document and shows its first page.
func (s *ReaderSession) SetDocument(ctx context.Context, doc Document) error {
	if s.doc != nil {
		s.Unload()
	}

	s.doc = doc
	s.page = 0
	s.generation++

	log.Info().
		Str("uri", doc.URI().String()).
		Int("pages", doc.PageCount()).
		Bool("can_render", doc.CanRenderPages()).
		Msg("document loaded")

	s.events.Publish(events.DocumentLoaded{
		URI:            doc.URI().String(),
		Pages:          doc.PageCount(),
		CanRenderPages: doc.CanRenderPages(),
	})
	return s.showPage(ctx)
}

// Unload closes the current document, if any.
func (s *ReaderSession) Unload() {
	if s.doc == nil {
		return
	}
	doc := s.doc
	s.doc = nil
	s.page = 0
	s.generation++

	if err := doc.Close(); err != nil {
		log.Warn().Err(err).Str("uri", doc.URI().String()).Msg("close document")
	}
	s.view.SetContent("")
	s.events.Publish(events.DocumentUnloaded{URI: doc.URI().String()})
}

func (s *ReaderSession) GoToPage(ctx context.Context, page int) error {
	if s.doc == nil {
		return ErrNoDocument
	}
	if err := checkPage(s.doc, page); err != nil {
		return err
	}

	prev := s.page
	s.page = page
	if err := s.showPage(ctx); err != nil {
		return err
	}
	s.events.Publish(events.PageChanged{Current: page, Previous: prev})
	return nil
}

func (s *ReaderSession) NextPage(ctx context.Context) error {
	return s.GoToPage(ctx, s.page+1)
}

func (s *ReaderSession) PrevPage(ctx context.Context) error {
	return s.GoToPage(ctx, s.page-1)
}

func (s *ReaderSession) showPage(ctx context.Context) error {
	text, err := s.doc.PageText(ctx, s.page)
	if err != nil {
		return fmt.Errorf("read page %d: %w", s.page, err)
	}
	s.view.SetContent(text)
	return nil
}
