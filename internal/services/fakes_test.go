package services

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"scanreader/internal/events"
	"scanreader/internal/metrics"
	"scanreader/internal/models"
	"scanreader/internal/uiloop"
	"scanreader/internal/view"
	"scanreader/internal/worker"
)

var testLanguages = []models.Language{
	{Code: "eng", Name: "English"},
	{Code: "ara", Name: "Arabic", RTL: true},
}

// fakeEngine answers "p<page>" for every request. When gate returns true for
// a page the call blocks until release is closed or ctx is done.
type fakeEngine struct {
	languages []models.Language
	gate      func(page int) bool
	release   chan struct{}
	fail      func(page int) error
	calls     atomic.Int32
	once      sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{languages: testLanguages, release: make(chan struct{})}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) SortedLanguages(ctx context.Context) ([]models.Language, error) {
	return e.languages, nil
}

func (e *fakeEngine) PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error) {
	e.calls.Add(1)
	page := req.Cookie.Page
	if e.gate != nil && e.gate(page) {
		select {
		case <-e.release:
		case <-ctx.Done():
			return models.OcrResult{}, ctx.Err()
		}
	}
	if e.fail != nil {
		if err := e.fail(page); err != nil {
			return models.OcrResult{}, err
		}
	}
	return models.OcrResult{Cookie: req.Cookie, RecognizedText: fmt.Sprintf("p%d", page)}, nil
}

// Release unblocks every gated call, now and later.
func (e *fakeEngine) Release() { e.once.Do(func() { close(e.release) }) }

func gateAll(int) bool { return true }

// fakeDocument is a paged document whose own page text is "text<page>".
type fakeDocument struct {
	uri       DocumentURI
	title     string
	pages     int
	canRender bool

	mu     sync.Mutex
	closed bool
}

func newFakeDocument(pages int) *fakeDocument {
	return &fakeDocument{
		uri:       DocumentURI{Format: "pdf", Path: "/books/scan.pdf"},
		title:     "scan",
		pages:     pages,
		canRender: true,
	}
}

func (d *fakeDocument) URI() DocumentURI     { return d.uri }
func (d *fakeDocument) Title() string        { return d.title }
func (d *fakeDocument) PageCount() int       { return d.pages }
func (d *fakeDocument) CanRenderPages() bool { return d.canRender }

func (d *fakeDocument) PageImage(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if err := checkPage(d, page); err != nil {
		return nil, err
	}
	return image.NewGray(image.Rect(0, 0, 4, 4)), nil
}

func (d *fakeDocument) PageText(ctx context.Context, page int) (string, error) {
	if err := checkPage(d, page); err != nil {
		return "", err
	}
	return fmt.Sprintf("text%d", page), nil
}

func (d *fakeDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDocument) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type harness struct {
	t        *testing.T
	loop     *uiloop.Loop
	view     *view.Recorder
	dialogs  *view.ScriptedDialogs
	registry *events.Registry
	session  *ReaderSession
	ocr      *OCRService
	engine   *fakeEngine
	ended    chan events.OCREnded
}

func newHarness(t *testing.T, engine *fakeEngine, runs *RunService) *harness {
	t.Helper()
	loop := uiloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	pool := worker.NewPool(2)
	t.Cleanup(func() {
		engine.Release()
		pool.Close()
		cancel()
	})

	rec := view.NewRecorder(100)
	dialogs := view.NewScriptedDialogs(nil)
	registry := events.NewRegistry()
	session := NewReaderSession(NewDocumentLoader(), registry, rec)
	svc := NewOCRService(engine, session, rec, dialogs, loop, pool, metrics.New(), runs)

	h := &harness{
		t:        t,
		loop:     loop,
		view:     rec,
		dialogs:  dialogs,
		registry: registry,
		session:  session,
		ocr:      svc,
		engine:   engine,
		ended:    make(chan events.OCREnded, 16),
	}
	events.Subscribe(registry, func(e events.OCREnded) { h.ended <- e })
	return h
}

// do runs fn on the UI loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(context.Background(), fn))
}

func (h *harness) load(doc Document) {
	h.t.Helper()
	var err error
	h.do(func() { err = h.session.SetDocument(context.Background(), doc) })
	require.NoError(h.t, err)
}

func (h *harness) scan() error {
	var err error
	h.do(func() { err = h.ocr.ScanCurrentPage(context.Background()) })
	return err
}

func (h *harness) waitEnded() events.OCREnded {
	h.t.Helper()
	select {
	case e := <-h.ended:
		// completion handlers publish last; flush anything queued after it
		h.do(func() {})
		return e
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for ocr-ended")
		return events.OCREnded{}
	}
}

func (h *harness) assertNoEnded(wait time.Duration) {
	h.t.Helper()
	select {
	case e := <-h.ended:
		h.t.Fatalf("unexpected ocr-ended: %+v", e)
	case <-time.After(wait):
	}
}

func storedOptions() *models.OcrOptions {
	return &models.OcrOptions{Language: models.Language{Code: "eng"}, ZoomFactor: 2, StoreOptions: true}
}
