package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"scanreader/internal/metrics"
	"scanreader/internal/models"
	"scanreader/internal/ocr"
	"scanreader/internal/services"
	"scanreader/internal/uiloop"
	"scanreader/internal/view"
)

const maxMultipartMemory = 8 << 20 // 8 MB

// Deps are the collaborators the HTTP surface drives. Session and OCR are
// only touched through Loop.
type Deps struct {
	Loop      *uiloop.Loop
	Session   *services.ReaderSession
	OCR       *services.OCRService
	Engine    ocr.Engine
	View      *view.Recorder
	Dialogs   *view.ScriptedDialogs
	Documents *services.DocumentService
	Runs      *services.RunService
	Word      *services.WordConverter
	Metrics   *metrics.Metrics
	MaxUpload int64
}

type Server struct {
	mux  *http.ServeMux
	deps Deps
	jobs *JobManager
}

func NewServer(deps Deps) *Server {
	if deps.MaxUpload <= 0 {
		deps.MaxUpload = 64 << 20
	}
	s := &Server{
		mux:  http.NewServeMux(),
		deps: deps,
		jobs: NewJobManager(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/documents", s.handleOpenDocument)
	s.mux.HandleFunc("/api/documents/current", s.handleCurrentDocument)
	s.mux.HandleFunc("/api/pages", s.handlePages)
	s.mux.HandleFunc("/api/view", s.handleView)
	s.mux.HandleFunc("/api/ocr/languages", s.handleLanguages)
	s.mux.HandleFunc("/api/ocr/scan", s.handleScan)
	s.mux.HandleFunc("/api/ocr/image", s.handleScanImage)
	s.mux.HandleFunc("/api/ocr/cancel", s.handleCancel)
	s.mux.HandleFunc("/api/ocr/options", s.handleOptions)
	s.mux.HandleFunc("/api/ocr/auto", s.handleAutoScan)
	s.mux.HandleFunc("/api/ocr/extractions", s.handleExtractions)
	s.mux.HandleFunc("/api/ocr/extractions/", s.handleExtractionActions)
	s.mux.HandleFunc("/api/convert", s.handleConvert)
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}
}

// onLoop runs fn on the UI loop and returns its error.
func (s *Server) onLoop(ctx context.Context, fn func() error) error {
	var err error
	if callErr := s.deps.Loop.Call(ctx, func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

type optionsRequest struct {
	Language     string   `json:"language"`
	ZoomFactor   float64  `json:"zoomFactor"`
	Pipelines    []string `json:"pipelines"`
	StoreOptions bool     `json:"storeOptions"`
}

// answer primes the options dialog with the request's choices. Call it in
// the same loop task as the prompt it answers.
func (o *optionsRequest) answer(d *view.ScriptedDialogs) {
	if o == nil {
		return
	}
	d.SetOptions(&models.OcrOptions{
		Language:                 models.Language{Code: o.Language},
		ZoomFactor:               o.ZoomFactor,
		ImageProcessingPipelines: o.Pipelines,
		StoreOptions:             o.StoreOptions,
	})
}

type documentState struct {
	URI            string `json:"uri"`
	Title          string `json:"title"`
	Pages          int    `json:"pages"`
	Page           int    `json:"page"`
	CanRenderPages bool   `json:"canRenderPages"`
	AutoScan       bool   `json:"autoScan"`
	Content        string `json:"content"`
}

// documentSnapshot must run on the UI loop.
func (s *Server) documentSnapshot() *documentState {
	doc := s.deps.Session.Document()
	if doc == nil {
		return nil
	}
	return &documentState{
		URI:            doc.URI().String(),
		Title:          doc.Title(),
		Pages:          doc.PageCount(),
		Page:           s.deps.Session.CurrentPage(),
		CanRenderPages: doc.CanRenderPages(),
		AutoScan:       s.deps.OCR.AutoScan(),
		Content:        s.deps.View.Snapshot().Content,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": s.deps.Engine.Name()})
}

type pathRequest struct {
	Path    string          `json:"path"`
	Output  string          `json:"output,omitempty"`
	Options *optionsRequest `json:"options,omitempty"`
}

// sourcePath resolves the file a request refers to: a multipart "file" part
// is stored in the upload directory, otherwise the JSON body names a path.
func (s *Server) sourcePath(r *http.Request) (string, *pathRequest, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(nil, r.Body, s.deps.MaxUpload) // oversized uploads fail the parse below
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return "", nil, badRequest("invalid multipart form")
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, badRequest("no file uploaded")
		}
		defer file.Close()

		req := &pathRequest{Output: r.FormValue("output")}
		if raw := r.FormValue("options"); raw != "" {
			req.Options = &optionsRequest{}
			if err := json.Unmarshal([]byte(raw), req.Options); err != nil {
				return "", nil, badRequest("invalid options")
			}
		}
		path, err := s.deps.Documents.SaveUpload(r.Context(), header.Filename, file)
		if err != nil {
			return "", nil, err
		}
		return path, req, nil
	}

	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(req.Path) == "" {
		return "", nil, badRequest("path is required")
	}
	return req.Path, &req, nil
}

func (s *Server) handleOpenDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	path, _, err := s.sourcePath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var state *documentState
	err = s.onLoop(r.Context(), func() error {
		if err := s.deps.Session.Open(r.Context(), services.URIFromFilename(path)); err != nil {
			return err
		}
		state = s.documentSnapshot()
		return nil
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCurrentDocument(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var state *documentState
		_ = s.onLoop(r.Context(), func() error {
			state = s.documentSnapshot()
			return nil
		})
		if state == nil {
			writeError(w, http.StatusNotFound, services.ErrNoDocument.Error())
			return
		}
		writeJSON(w, http.StatusOK, state)
	case http.MethodDelete:
		err := s.onLoop(r.Context(), func() error {
			if !s.deps.Session.Ready() {
				return services.ErrNoDocument
			}
			s.deps.Session.Unload()
			return nil
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

type pageRequest struct {
	Page   *int   `json:"page,omitempty"`
	Action string `json:"action,omitempty"`
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req pageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}

	var state *documentState
	err := s.onLoop(r.Context(), func() error {
		ctx := r.Context()
		var err error
		switch {
		case req.Page != nil:
			err = s.deps.Session.GoToPage(ctx, *req.Page)
		case req.Action == "next":
			err = s.deps.Session.NextPage(ctx)
		case req.Action == "prev":
			err = s.deps.Session.PrevPage(ctx)
		default:
			err = badRequest("page or action (next, prev) is required")
		}
		if err != nil {
			return err
		}
		state = s.documentSnapshot()
		return nil
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.View.Snapshot())
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	langs, err := s.deps.Engine.SortedLanguages(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":    s.deps.Engine.Name(),
		"languages": langs,
		"pipelines": ocr.PipelineNames(),
	})
}

type scanResponse struct {
	InFlight int        `json:"inFlight"`
	View     view.State `json:"view"`
}

func (s *Server) scanResult(ctx context.Context, w http.ResponseWriter) {
	var resp scanResponse
	_ = s.onLoop(ctx, func() error {
		resp.InFlight = s.deps.OCR.InFlight()
		return nil
	})
	resp.View = s.deps.View.Snapshot()
	status := http.StatusOK
	if resp.InFlight > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var opts *optionsRequest
	if r.ContentLength != 0 {
		opts = &optionsRequest{}
		if err := decodeJSON(r, opts); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	err := s.onLoop(r.Context(), func() error {
		opts.answer(s.deps.Dialogs)
		return s.deps.OCR.ScanCurrentPage(r.Context())
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.scanResult(r.Context(), w)
}

func (s *Server) handleScanImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	path, req, err := s.sourcePath(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	err = s.onLoop(r.Context(), func() error {
		req.Options.answer(s.deps.Dialogs)
		return s.deps.OCR.ScanImageFile(r.Context(), path)
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.scanResult(r.Context(), w)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var n int
	_ = s.onLoop(r.Context(), func() error {
		n = s.deps.OCR.Cancel()
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var stored *models.OcrOptions
		_ = s.onLoop(r.Context(), func() error {
			stored = s.deps.OCR.StoredOptions()
			return nil
		})
		writeJSON(w, http.StatusOK, map[string]any{"options": stored})
	case http.MethodPost:
		var req optionsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, err)
			return
		}
		var (
			opts models.OcrOptions
			ok   bool
		)
		err := s.onLoop(r.Context(), func() error {
			req.answer(s.deps.Dialogs)
			var err error
			opts, ok, err = s.deps.OCR.ChangeOptions(r.Context())
			return err
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "options were not accepted")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"options": opts})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type autoScanRequest struct {
	Enabled bool            `json:"enabled"`
	Options *optionsRequest `json:"options,omitempty"`
}

func (s *Server) handleAutoScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req autoScanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	var enabled bool
	err := s.onLoop(r.Context(), func() error {
		req.Options.answer(s.deps.Dialogs)
		err := s.deps.OCR.SetAutoScan(r.Context(), req.Enabled)
		enabled = s.deps.OCR.AutoScan()
		return err
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"autoScan": enabled})
}

func (s *Server) handleExtractions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListExtractions(w, r)
	case http.MethodPost:
		s.handleStartExtraction(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleStartExtraction(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.TrimSpace(req.Output) == "" {
		writeError(w, http.StatusBadRequest, "output is required")
		return
	}
	var (
		jobID string
		ext   *services.Extraction
	)
	err := s.onLoop(r.Context(), func() error {
		req.Options.answer(s.deps.Dialogs)
		doc := s.deps.Session.Document()
		if doc == nil {
			return services.ErrNoDocument
		}
		jobID, _ = s.jobs.CreateJob(doc.URI().String(), req.Output)
		observer := services.ExtractionObserver{
			Progress: func(p models.ExtractionProgress) { s.jobs.UpdateProgress(jobID, p) },
			Finished: func(summary services.ExtractionSummary, err error) { s.jobs.MarkFinished(jobID, summary, err) },
		}
		var err error
		ext, err = s.deps.OCR.ScanToTextFile(r.Context(), req.Output, observer)
		return err
	})
	if err != nil {
		if jobID != "" {
			s.jobs.Remove(jobID)
		}
		writeServiceError(w, err)
		return
	}
	if ext == nil {
		s.jobs.Remove(jobID)
		writeError(w, http.StatusConflict, "extraction was cancelled")
		return
	}

	s.jobs.Attach(jobID, ext)
	job, _ := s.jobs.GetJob(jobID)
	writeJSON(w, http.StatusAccepted, job)
}

type runJSON struct {
	ID           string  `json:"id"`
	DocumentPath string  `json:"documentPath"`
	OutputPath   string  `json:"outputPath"`
	Pages        int     `json:"pages"`
	PagesDone    int     `json:"pagesDone"`
	Status       string  `json:"status"`
	Error        *string `json:"error,omitempty"`
	StartedAt    string  `json:"startedAt"`
	FinishedAt   *string `json:"finishedAt,omitempty"`
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	history := []runJSON{}
	if s.deps.Runs != nil {
		runs, err := s.deps.Runs.List(r.Context(), 50)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, run := range runs {
			history = append(history, runJSON{
				ID:           run.ID,
				DocumentPath: run.DocumentPath,
				OutputPath:   run.OutputPath,
				Pages:        run.Pages,
				PagesDone:    run.PagesDone,
				Status:       string(run.Status),
				Error:        nullString(run.Error),
				StartedAt:    run.StartedAt.Format(timeLayout),
				FinishedAt:   nullTimeToString(run.FinishedAt),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":    s.jobs.ListJobs(),
		"history": history,
	})
}

func (s *Server) handleExtractionActions(w http.ResponseWriter, r *http.Request) {
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ocr/extractions/"), "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := s.jobs.GetJob(jobID)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if _, ok := s.jobs.GetJob(jobID); !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if !s.jobs.Abort(jobID) {
			writeError(w, http.StatusConflict, "job is not running")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs, err := s.deps.Documents.ListConversions(r.Context(), 50)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if docs == nil {
			docs = []models.ConvertedDocument{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversions": docs})
	case http.MethodPost:
		path, _, err := s.sourcePath(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		htmlPath, err := s.deps.Word.ConvertedFilename(r.Context(), path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"source": path, "html": htmlPath})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMultipartMemory))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body is required")
		}
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNoDocument),
		errors.Is(err, services.ErrRenderUnsupported):
		return http.StatusConflict
	case errors.Is(err, services.ErrPageOutOfRange),
		errors.Is(err, ocr.ErrUnknownPipeline),
		errors.Is(err, services.ErrImageLoad):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoLanguagesAvailable),
		errors.Is(err, ocr.ErrEngineUnavailable),
		errors.Is(err, uiloop.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeError(w, status, err.Error())
}

const timeLayout = time.RFC3339

func nullTimeToString(t sql.NullTime) *string {
	if t.Valid {
		str := t.Time.Format(timeLayout)
		return &str
	}
	return nil
}

func nullString(v sql.NullString) *string {
	if v.Valid {
		str := v.String
		return &str
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
