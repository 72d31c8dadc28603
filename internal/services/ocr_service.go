package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"scanreader/internal/events"
	"scanreader/internal/metrics"
	"scanreader/internal/models"
	"scanreader/internal/ocr"
	"scanreader/internal/uiloop"
	"scanreader/internal/view"
	"scanreader/internal/worker"
)

var ErrNoLanguagesAvailable = errors.New("no OCR languages available")

const waitMessage = "Running OCR, please wait..."

type pendingRequest struct {
	token     models.RequestToken
	cancelled bool
	wait      view.WaitHandle
	started   time.Time
}

// OCRService drives OCR for the reader: it resolves options, scans pages
// on the worker pool and delivers results back on the UI loop.
//
// Except where noted, methods must be called on the UI loop. Completions are
// posted there by the worker pool, so stored options, the scan cache and the
// in-flight table are never shared across goroutines.
type OCRService struct {
	engine  ocr.Engine
	session *ReaderSession
	view    view.View
	dialogs view.Dialogs
	loop    *uiloop.Loop
	pool    *worker.Pool
	events  *events.Registry
	metrics *metrics.Metrics
	runs    *RunService

	stored   *models.OcrOptions
	scanned  *ScanCache
	epoch    uint64
	inflight map[string]*pendingRequest
	autoScan bool
	enabled  bool
}

func NewOCRService(
	engine ocr.Engine,
	session *ReaderSession,
	v view.View,
	dialogs view.Dialogs,
	loop *uiloop.Loop,
	pool *worker.Pool,
	m *metrics.Metrics,
	runs *RunService,
) *OCRService {
	s := &OCRService{
		engine:   engine,
		session:  session,
		view:     v,
		dialogs:  dialogs,
		loop:     loop,
		pool:     pool,
		events:   session.Events(),
		metrics:  m,
		runs:     runs,
		scanned:  NewScanCache(),
		inflight: make(map[string]*pendingRequest),
	}

	events.Subscribe(s.events, s.onDocumentLoaded)
	events.Subscribe(s.events, s.onDocumentUnloaded)
	events.Subscribe(s.events, s.onPageChanged)
	return s
}

// Enabled reports whether OCR actions apply to the current document.
func (s *OCRService) Enabled() bool { return s.enabled }

func (s *OCRService) AutoScan() bool { return s.autoScan }

// ShouldAutoNavigate tells continuous reading whether to turn pages by
// itself. It does not while auto-scan is on, since page changes then wait
// for OCR.
func (s *OCRService) ShouldAutoNavigate() bool { return !s.autoScan }

func (s *OCRService) StoredOptions() *models.OcrOptions {
	if s.stored == nil {
		return nil
	}
	opts := *s.stored
	return &opts
}

func (s *OCRService) CachedPages() int { return s.scanned.Len() }

func (s *OCRService) InFlight() int { return len(s.inflight) }

func (s *OCRService) invalidateCache() {
	s.scanned.Clear()
	s.epoch++
}

// ResolveOptions returns the options for the next scan. With useCache set
// and options stored, those are returned without prompting. Otherwise the
// scan cache is cleared and the options dialog is shown; forceSave makes
// the confirmed options persist for the document session.
//
// A cancelled dialog returns ok == false and a nil error.
func (s *OCRService) ResolveOptions(ctx context.Context, useCache, forceSave bool) (models.OcrOptions, bool, error) {
	if useCache && s.stored != nil {
		return *s.stored, true, nil
	}

	langs, err := s.engine.SortedLanguages(ctx)
	if err != nil {
		return models.OcrOptions{}, false, fmt.Errorf("list ocr languages: %w", err)
	}
	if len(langs) == 0 {
		s.view.ShowMessage(view.MessageError, "No Languages for OCR",
			"No language for OCR is present.\nPlease install OCR language data and try again.")
		return models.OcrOptions{}, false, ErrNoLanguagesAvailable
	}

	previous := s.stored
	if !useCache {
		s.stored = nil
	}
	s.invalidateCache()

	opts, ok := s.dialogs.PromptOptions(view.OptionsPrompt{
		Languages: langs,
		Pipelines: ocr.PipelineNames(),
		Previous:  previous,
		ForceSave: forceSave,
	})
	if !ok {
		s.stored = nil
		return models.OcrOptions{}, false, nil
	}
	if err := ocr.ValidatePipelines(opts.ImageProcessingPipelines); err != nil {
		s.stored = nil
		return models.OcrOptions{}, false, err
	}
	if forceSave {
		opts.StoreOptions = true
	}

	if opts.StoreOptions {
		stored := opts
		s.stored = &stored
	} else {
		s.stored = nil
	}
	return opts, true, nil
}

// ChangeOptions drops the stored options and prompts for new ones.
func (s *OCRService) ChangeOptions(ctx context.Context) (models.OcrOptions, bool, error) {
	return s.ResolveOptions(ctx, false, false)
}

// ScanCurrentPage shows the recognised text of the current page, from the
// scan cache when possible and otherwise by dispatching an OCR request.
func (s *OCRService) ScanCurrentPage(ctx context.Context) error {
	doc := s.session.Document()
	if doc == nil {
		return ErrNoDocument
	}
	if !doc.CanRenderPages() {
		return ErrRenderUnsupported
	}

	opts, ok, err := s.ResolveOptions(ctx, true, false)
	if err != nil {
		return err
	}
	if !ok {
		s.view.Announce("Canceled", true)
		return nil
	}

	page := s.session.CurrentPage()
	if text, hit := s.scanned.Get(page); hit {
		s.metrics.ScanCacheLookup(true)
		s.view.SetContent(text)
		return nil
	}
	s.metrics.ScanCacheLookup(false)

	img, err := doc.PageImage(ctx, page, opts.ZoomFactor)
	if err != nil {
		return fmt.Errorf("render page %d: %w", page, err)
	}

	token := models.NewRequestToken(page, s.session.Generation(), s.epoch)
	req := models.NewOcrRequest(opts.Language, img, opts.ImageProcessingPipelines, token)
	rtl := opts.Language.IsRTL()

	s.dispatch(req, func(result models.OcrResult) {
		cookie := result.Cookie
		if cookie.Generation != s.session.Generation() || cookie.Epoch != s.epoch {
			log.Debug().Str("request", cookie.ID).Int("page", cookie.Page).Msg("discarding stale ocr result")
			return
		}
		s.scanned.Put(cookie.Page, result.RecognizedText)
		if cookie.Page == s.session.CurrentPage() {
			s.view.SetContent(result.RecognizedText)
			s.view.SetTextDirection(rtl)
		}
	})
	return nil
}

// dispatch submits req to the worker pool and returns at once. Exactly one
// OCREnded event is published for it, from the UI loop.
func (s *OCRService) dispatch(req models.OcrRequest, onSuccess func(models.OcrResult)) {
	pending := &pendingRequest{token: req.Cookie, started: time.Now()}
	s.inflight[req.Cookie.ID] = pending

	s.events.Publish(events.OCRStarted{Token: req.Cookie})
	s.view.PlaySound(view.CueOCRStart)
	id := req.Cookie.ID
	pending.wait = s.dialogs.ShowWait(waitMessage, func() {
		if err := s.loop.Post(func() { s.cancelRequest(id) }); err != nil {
			log.Warn().Err(err).Str("request", id).Msg("cancel ocr request")
		}
	})

	err := s.pool.Submit(func() {
		result, err := s.recognize(req)
		if postErr := s.loop.Post(func() { s.complete(pending, result, err, onSuccess) }); postErr != nil {
			log.Warn().Err(postErr).Str("request", id).Msg("drop ocr completion")
		}
	})
	if err != nil {
		s.complete(pending, models.OcrResult{}, fmt.Errorf("submit ocr request: %w", err), onSuccess)
	}
}

// recognize runs on a worker goroutine.
func (s *OCRService) recognize(req models.OcrRequest) (result models.OcrResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ocr engine panicked: %v", r)
		}
	}()
	// Cancellation is delivered at completion; engine work is never interrupted.
	return s.engine.PreprocessAndRecognize(context.Background(), req)
}

func (s *OCRService) complete(pending *pendingRequest, result models.OcrResult, err error, onSuccess func(models.OcrResult)) {
	delete(s.inflight, pending.token.ID)
	if pending.wait != nil {
		pending.wait.Dismiss()
	}
	elapsed := time.Since(pending.started)

	switch {
	case pending.cancelled:
		s.metrics.ObserveOCR(s.engine.Name(), metrics.OutcomeCancelled, elapsed)
		s.events.Publish(events.OCREnded{Token: pending.token, Faulted: true, Cancelled: true})
	case err != nil:
		log.Error().Err(err).
			Str("request", pending.token.ID).
			Int("page", pending.token.Page).
			Str("engine", s.engine.Name()).
			Msg("Error getting OCR recognition results")
		s.metrics.ObserveOCR(s.engine.Name(), metrics.OutcomeError, elapsed)
		s.events.Publish(events.OCREnded{Token: pending.token, Faulted: true})
	default:
		if result.Cookie.ID == "" {
			result.Cookie = pending.token
		}
		s.metrics.ObserveOCR(s.engine.Name(), metrics.OutcomeSuccess, elapsed)
		onSuccess(result)
		s.view.PlaySound(view.CueOCREnd)
		s.view.Announce("Scan finished.", true)
		s.view.Focus()
		s.events.Publish(events.OCREnded{Token: pending.token, Faulted: false})
	}
}

// Cancel marks every in-flight request cancelled and returns how many were
// marked. Engine work keeps running; its results are discarded.
func (s *OCRService) Cancel() int {
	n := 0
	for _, pending := range s.inflight {
		if !pending.cancelled {
			s.markCancelled(pending)
			n++
		}
	}
	if n > 0 {
		s.announceCancel()
	}
	return n
}

func (s *OCRService) cancelRequest(id string) {
	pending, ok := s.inflight[id]
	if !ok || pending.cancelled {
		return
	}
	s.markCancelled(pending)
	s.announceCancel()
}

// markCancelled closes the request's wait indicator now; OCREnded is still
// published when the engine call returns.
func (s *OCRService) markCancelled(pending *pendingRequest) {
	pending.cancelled = true
	if pending.wait != nil {
		pending.wait.Dismiss()
		pending.wait = nil
	}
}

func (s *OCRService) announceCancel() {
	s.view.Announce("OCR canceled", true)
	s.view.PlaySound(view.CueOCREnd)
}

// SetAutoScan turns scanning on every page change on or off.
func (s *OCRService) SetAutoScan(ctx context.Context, enabled bool) error {
	if enabled && s.stored == nil {
		if _, _, err := s.ResolveOptions(ctx, true, true); err != nil {
			return err
		}
	}
	s.autoScan = enabled
	if enabled {
		s.view.Announce("Automatic OCR is enabled", false)
	} else {
		s.view.Announce("Automatic OCR is disabled", false)
	}
	if enabled && s.view.ContentEmpty() {
		return s.ScanCurrentPage(ctx)
	}
	return nil
}

// ScanImageFile recognises the text of an image file and shows it in place
// of the current document.
func (s *OCRService) ScanImageFile(ctx context.Context, path string) error {
	img, err := LoadImage(path)
	if err != nil {
		s.view.ShowMessage(view.MessageError, "Could not load image file", fmt.Sprintf(
			"Could not load image from\n%s.\nPlease make sure the file exists and the data contained in is not corrupted.", path))
		return fmt.Errorf("%w: %s", ErrImageLoad, path)
	}

	langs, err := s.engine.SortedLanguages(ctx)
	if err != nil {
		return fmt.Errorf("list ocr languages: %w", err)
	}
	if len(langs) == 0 {
		s.view.ShowMessage(view.MessageError, "No Languages for OCR",
			"No language for OCR is present.\nPlease install OCR language data and try again.")
		return ErrNoLanguagesAvailable
	}
	s.invalidateCache()
	opts, ok := s.dialogs.PromptOptions(view.OptionsPrompt{
		Languages: langs,
		Pipelines: ocr.PipelineNames(),
		Previous:  s.StoredOptions(),
		ForceSave: true,
	})
	if !ok {
		return nil
	}
	if err := ocr.ValidatePipelines(opts.ImageProcessingPipelines); err != nil {
		return err
	}

	scaled := ocr.Scale(img, opts.ZoomFactor)
	token := models.NewRequestToken(models.NoPage, s.session.Generation(), s.epoch)
	req := models.NewOcrRequest(opts.Language, scaled, opts.ImageProcessingPipelines, token)
	rtl := opts.Language.IsRTL()

	s.dispatch(req, func(result models.OcrResult) {
		if s.session.Ready() {
			s.session.Unload()
		}
		s.view.SetContent(result.RecognizedText)
		s.view.SetTextDirection(rtl)
		s.view.SetStatus("OCR Results")
	})
	return nil
}

// ExtractionObserver receives the progress of ScanToTextFile. Its functions
// are called from the extraction's forwarding goroutine, not the UI loop.
type ExtractionObserver struct {
	Progress func(models.ExtractionProgress)
	Finished func(ExtractionSummary, error)
}

// ScanToTextFile recognises every page of the current document into a text
// file. When outputPath is empty the user is asked for one. It returns nil
// without error when the user cancels a dialog.
func (s *OCRService) ScanToTextFile(ctx context.Context, outputPath string, observer ExtractionObserver) (*Extraction, error) {
	doc := s.session.Document()
	if doc == nil {
		return nil, ErrNoDocument
	}
	if !doc.CanRenderPages() {
		return nil, ErrRenderUnsupported
	}

	opts, ok, err := s.ResolveOptions(ctx, false, true)
	if err != nil || !ok {
		return nil, err
	}

	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		path, ok := s.dialogs.PromptSavePath(doc.Title() + ".txt")
		if !ok || strings.TrimSpace(path) == "" {
			return nil, nil
		}
		outputPath = strings.TrimSpace(path)
	}

	// The run outlives the request that started it.
	runCtx := context.WithoutCancel(ctx)
	extraction := StartExtraction(runCtx, ExtractionParams{
		Document:   doc,
		Engine:     s.engine,
		Options:    opts,
		OutputPath: outputPath,
		Metrics:    s.metrics,
	})
	total := extraction.Total
	progress := s.dialogs.ShowProgress("Scanning Pages", "Preparing book", total, extraction.Abort)

	var runID string
	if s.runs != nil {
		run, err := s.runs.Start(runCtx, doc.URI().Path, outputPath, total)
		if err != nil {
			log.Warn().Err(err).Msg("record extraction run")
		} else {
			runID = run.ID
		}
	}

	go s.forwardExtraction(runCtx, extraction, progress, runID, observer)
	return extraction, nil
}

func (s *OCRService) forwardExtraction(ctx context.Context, extraction *Extraction, progress view.ProgressHandle, runID string, observer ExtractionObserver) {
	total := extraction.Total
	for p := range extraction.Progress() {
		p := p
		_ = s.loop.Post(func() {
			progress.Update(p.Page+1, fmt.Sprintf("Scanning page %d of %d", p.Page+1, total))
		})
		if runID != "" {
			if err := s.runs.UpdateProgress(ctx, runID, p.Page+1); err != nil {
				log.Warn().Err(err).Str("run", runID).Msg("update extraction run")
			}
		}
		if observer.Progress != nil {
			observer.Progress(p)
		}
	}

	summary, err := extraction.Wait()
	status := summary.Status(err)
	s.metrics.ExtractionFinished(string(status))
	if runID != "" {
		if ferr := s.runs.Finish(ctx, runID, status, summary.PagesDone, err); ferr != nil {
			log.Warn().Err(ferr).Str("run", runID).Msg("finish extraction run")
		}
	}

	_ = s.loop.Post(func() {
		progress.Dismiss()
		switch status {
		case models.ExtractionFailed:
			log.Error().Err(err).Str("output", extraction.OutputPath).Msg("text extraction failed")
			s.view.ShowMessage(view.MessageError, "OCR Failed", fmt.Sprintf(
				"Text extraction stopped after %d of %d pages.\n%v", summary.PagesDone, total, err))
		case models.ExtractionComplete:
			s.view.ShowMessage(view.MessageInfo, "OCR Completed", fmt.Sprintf(
				"Successfully processed %d pages.\nExtracted text was written to: %s", total, extraction.OutputPath))
		}
		s.view.Focus()
	})

	if observer.Finished != nil {
		observer.Finished(summary, err)
	}
}

func (s *OCRService) onDocumentLoaded(e events.DocumentLoaded) {
	s.enabled = e.CanRenderPages
	s.invalidateCache()
}

func (s *OCRService) onDocumentUnloaded(events.DocumentUnloaded) {
	s.stored = nil
	s.invalidateCache()
	s.autoScan = false
	s.enabled = false
}

func (s *OCRService) onPageChanged(events.PageChanged) {
	if !s.autoScan {
		return
	}
	if err := s.ScanCurrentPage(context.Background()); err != nil {
		log.Warn().Err(err).Msg("automatic page scan")
	}
}
