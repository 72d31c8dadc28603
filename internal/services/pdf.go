package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
)

// PageRenderer rasterises a single PDF page.
type PageRenderer interface {
	RenderPage(ctx context.Context, path string, page int, dpi int) (image.Image, error)
}

// GhostscriptRenderer renders pages with the gs binary.
type GhostscriptRenderer struct {
	Binary string
}

func NewGhostscriptRenderer() *GhostscriptRenderer {
	return &GhostscriptRenderer{Binary: "gs"}
}

// Available reports whether the Ghostscript binary is on PATH.
func (g *GhostscriptRenderer) Available() bool {
	_, err := exec.LookPath(g.Binary)
	return err == nil
}

// RenderPage renders page (0-based) to an RGB image.
// -dFirstPage/-dLastPage: Ghostscript uses 1-based numbering
// -sDEVICE=png16m: 24-bit color PNG written to stdout
func (g *GhostscriptRenderer) RenderPage(ctx context.Context, path string, page int, dpi int) (image.Image, error) {
	cmd := exec.CommandContext(ctx, g.Binary,
		"-dQUIET",
		"-dSAFER",
		"-dNOPAUSE",
		"-dBATCH",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi),
		fmt.Sprintf("-dFirstPage=%d", page+1),
		fmt.Sprintf("-dLastPage=%d", page+1),
		"-sOutputFile=-",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ghostscript render failed: %w, stderr: %s", err, stderr.String())
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page+1, err)
	}
	return img, nil
}

// PDFDocument reads structure and text with ledongthuc/pdf and renders
// pages with a PageRenderer.
type PDFDocument struct {
	uri      DocumentURI
	title    string
	pages    int
	renderer PageRenderer

	// pdf.Reader is not safe for concurrent use
	mu     sync.Mutex
	file   *os.File
	reader *pdf.Reader
}

func OpenPDF(uri DocumentURI, renderer PageRenderer) (*PDFDocument, error) {
	f, r, err := pdf.Open(uri.Path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages := r.NumPage()
	if numPages == 0 {
		f.Close()
		return nil, fmt.Errorf("pdf has no pages")
	}

	return &PDFDocument{
		uri:      uri,
		title:    pdfTitle(r, uri.Path),
		pages:    numPages,
		renderer: renderer,
		file:     f,
		reader:   r,
	}, nil
}

// PDFOpener adapts OpenPDF to the loader.
func PDFOpener(renderer PageRenderer) Opener {
	return func(ctx context.Context, uri DocumentURI) (Document, error) {
		return OpenPDF(uri, renderer)
	}
}

func pdfTitle(r *pdf.Reader, path string) string {
	title := strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return title
}

func (d *PDFDocument) URI() DocumentURI     { return d.uri }
func (d *PDFDocument) Title() string        { return d.title }
func (d *PDFDocument) PageCount() int       { return d.pages }
func (d *PDFDocument) CanRenderPages() bool { return d.renderer != nil }

func (d *PDFDocument) PageImage(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if err := checkPage(d, page); err != nil {
		return nil, err
	}
	if d.renderer == nil {
		return nil, ErrRenderUnsupported
	}
	if zoom <= 0 {
		zoom = 1
	}
	return d.renderer.RenderPage(ctx, d.uri.Path, page, int(72*zoom))
}

func (d *PDFDocument) PageText(ctx context.Context, page int) (string, error) {
	if err := checkPage(d, page); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader == nil {
		return "", ErrNoDocument
	}

	p := d.reader.Page(page + 1)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract text from page %d: %w", page+1, err)
	}
	return strings.TrimSpace(text), nil
}

func (d *PDFDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reader = nil
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
