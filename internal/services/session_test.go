package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanreader/internal/events"
	"scanreader/internal/view"
)

func newTestSession(loader *DocumentLoader) (*ReaderSession, *view.Recorder) {
	rec := view.NewRecorder(10)
	return NewReaderSession(loader, events.NewRegistry(), rec), rec
}

func TestSessionNavigation(t *testing.T) {
	ctx := context.Background()
	session, rec := newTestSession(NewDocumentLoader())

	var changes []events.PageChanged
	events.Subscribe(session.Events(), func(e events.PageChanged) { changes = append(changes, e) })

	require.NoError(t, session.SetDocument(ctx, newFakeDocument(3)))
	assert.True(t, session.Ready())
	assert.Equal(t, "text0", rec.Snapshot().Content)

	require.NoError(t, session.NextPage(ctx))
	require.NoError(t, session.NextPage(ctx))
	assert.Equal(t, 2, session.CurrentPage())
	assert.Equal(t, "text2", rec.Snapshot().Content)

	assert.ErrorIs(t, session.NextPage(ctx), ErrPageOutOfRange)
	assert.Equal(t, 2, session.CurrentPage())

	require.NoError(t, session.PrevPage(ctx))
	assert.Equal(t, []events.PageChanged{
		{Current: 1, Previous: 0},
		{Current: 2, Previous: 1},
		{Current: 1, Previous: 2},
	}, changes)
}

func TestSessionWithoutDocument(t *testing.T) {
	session, _ := newTestSession(NewDocumentLoader())
	assert.False(t, session.Ready())
	assert.Nil(t, session.Document())
	assert.ErrorIs(t, session.GoToPage(context.Background(), 0), ErrNoDocument)
	session.Unload()
	assert.Zero(t, session.Generation())
}

func TestSessionReplacingDocumentUnloadsPrevious(t *testing.T) {
	ctx := context.Background()
	session, rec := newTestSession(NewDocumentLoader())

	var names []string
	session.Events().On(events.NameDocumentLoaded, func(e events.Event) { names = append(names, e.EventName()) })
	session.Events().On(events.NameDocumentUnloaded, func(e events.Event) { names = append(names, e.EventName()) })

	first := newFakeDocument(2)
	require.NoError(t, session.SetDocument(ctx, first))
	require.NoError(t, session.GoToPage(ctx, 1))
	gen := session.Generation()

	second := newFakeDocument(1)
	require.NoError(t, session.SetDocument(ctx, second))
	assert.True(t, first.isClosed())
	assert.Equal(t, 0, session.CurrentPage())
	assert.Equal(t, gen+2, session.Generation())
	assert.Equal(t, []string{
		events.NameDocumentLoaded,
		events.NameDocumentUnloaded,
		events.NameDocumentLoaded,
	}, names)

	session.Unload()
	assert.True(t, second.isClosed())
	assert.Equal(t, "", rec.Snapshot().Content)
}

func TestLoaderFollowsDocumentChanges(t *testing.T) {
	loader := NewDocumentLoader()
	target := newFakeDocument(1)
	loader.Register(func(ctx context.Context, uri DocumentURI) (Document, error) {
		return nil, &ChangeDocumentError{OldURI: uri, NewURI: DocumentURI{Format: "fake", Path: uri.Path}, Reason: "redirect"}
	}, "redirect")
	loader.Register(func(ctx context.Context, uri DocumentURI) (Document, error) {
		return target, nil
	}, "fake")

	doc, err := loader.Open(context.Background(), DocumentURI{Format: "redirect", Path: "/a"})
	require.NoError(t, err)
	assert.Same(t, target, doc)
	assert.Equal(t, []string{"fake", "redirect"}, loader.Formats())
}

func TestLoaderStopsRedirectLoops(t *testing.T) {
	loader := NewDocumentLoader()
	loader.Register(func(ctx context.Context, uri DocumentURI) (Document, error) {
		return nil, &ChangeDocumentError{OldURI: uri, NewURI: uri, Reason: "loop"}
	}, "loop")

	_, err := loader.Open(context.Background(), DocumentURI{Format: "loop", Path: "/a"})
	assert.ErrorIs(t, err, ErrTooManyRedirections)
}

func TestLoaderErrors(t *testing.T) {
	loader := NewDocumentLoader()
	loader.Register(func(ctx context.Context, uri DocumentURI) (Document, error) {
		return nil, errors.New("bad file")
	}, "bad")

	_, err := loader.Open(context.Background(), DocumentURI{Format: "epub", Path: "/book.epub"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = loader.Open(context.Background(), DocumentURI{Format: "bad", Path: "/x.bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad file")
}

func TestDefaultLoaderFormats(t *testing.T) {
	formats := NewDefaultLoader(nil, nil).Formats()
	assert.Contains(t, formats, "pdf")
	assert.Contains(t, formats, "html")
	assert.Contains(t, formats, "png")
	assert.NotContains(t, formats, "docx")
}
