package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	stdhtml "html"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"scanreader/internal/metrics"
	"scanreader/internal/models"
)

const convertedDirName = "docx_as_html"

// WordConverter opens Word documents by converting them to HTML once and
// redirecting the loader to the converted file.
type WordConverter struct {
	storageDir string
	converter  HTMLConverter
	docs       *DocumentService
	metrics    *metrics.Metrics

	mu sync.Mutex
}

func NewWordConverter(dataDir string, converter HTMLConverter, docs *DocumentService, m *metrics.Metrics) *WordConverter {
	if converter == nil {
		converter = DocxHTMLConverter{}
	}
	return &WordConverter{
		storageDir: filepath.Join(dataDir, convertedDirName),
		converter:  converter,
		docs:       docs,
		metrics:    m,
	}
}

func (c *WordConverter) StorageDir() string { return c.storageDir }

// Read never yields a document: on success it returns a
// *ChangeDocumentError pointing at the converted HTML file.
func (c *WordConverter) Read(ctx context.Context, uri DocumentURI) error {
	htmlPath, err := c.ConvertedFilename(ctx, uri.Path)
	if err != nil {
		return fmt.Errorf("convert %s: %w", uri.Path, err)
	}
	return &ChangeDocumentError{
		OldURI: uri,
		NewURI: DocumentURI{Format: "html", Path: htmlPath},
		Reason: "Docx converted to html",
	}
}

func (c *WordConverter) Opener() Opener {
	return func(ctx context.Context, uri DocumentURI) (Document, error) {
		return nil, c.Read(ctx, uri)
	}
}

// ConvertedFilename returns the path of the HTML rendition of the Word file
// at path, converting it first unless a rendition of identical content
// already exists.
func (c *WordConverter) ConvertedFilename(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	target := filepath.Join(c.storageDir, hash+".html")

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(target); err == nil {
		c.metrics.DocumentConversion(metrics.CacheHit)
		c.record(ctx, path, hash, target)
		return target, nil
	}
	c.metrics.DocumentConversion(metrics.CacheMiss)

	if err := os.MkdirAll(c.storageDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure conversion dir: %w", err)
	}

	raw, err := c.converter.ConvertToHTML(ctx, path)
	if err != nil {
		return "", fmt.Errorf("convert to html: %w", err)
	}
	proper, err := MakeProperHTML(raw, path)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.storageDir, hash+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.WriteString(proper); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write html: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close html: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store html: %w", err)
	}

	log.Info().Str("source", path).Str("html", target).Msg("word document converted")
	c.record(ctx, path, hash, target)
	return target, nil
}

func (c *WordConverter) record(ctx context.Context, source, hash, target string) {
	if c.docs == nil {
		return
	}
	title, author := documentMetadata(source)
	if _, err := c.docs.RecordConversion(ctx, models.ConvertedDocument{
		SourcePath:  source,
		ContentHash: hash,
		HTMLPath:    target,
		Title:       title,
		Author:      author,
	}); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("record conversion")
	}
}

func documentMetadata(docxPath string) (title, author string) {
	stem := strings.TrimSuffix(filepath.Base(docxPath), filepath.Ext(docxPath))
	props, err := ReadCoreProperties(docxPath)
	if err != nil {
		return stem, ""
	}
	title = props.Title
	if title == "" || strings.EqualFold(title, "word document") {
		title = stem
	}
	return title, props.Creator
}

// MakeProperHTML turns converter output into a standalone page: links are
// unwrapped, images and style sheets removed, and the title and author are
// taken from the Word file's properties.
func MakeProperHTML(htmlString, docxPath string) (string, error) {
	root, err := html.Parse(strings.NewReader(htmlString))
	if err != nil {
		return "", fmt.Errorf("parse converted html: %w", err)
	}

	var anchors, removed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.A:
				anchors = append(anchors, n)
			case atom.Img, atom.Style:
				removed = append(removed, n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, n := range removed {
		n.Parent.RemoveChild(n)
	}
	for _, a := range anchors {
		if a.Parent == nil {
			continue
		}
		for c := a.FirstChild; c != nil; {
			next := c.NextSibling
			a.RemoveChild(c)
			a.Parent.InsertBefore(c, a)
			c = next
		}
		a.Parent.RemoveChild(a)
	}

	body := findElement(root, atom.Body)
	var buf bytes.Buffer
	if body != nil {
		if err := html.Render(&buf, body); err != nil {
			return "", fmt.Errorf("render body: %w", err)
		}
	}

	title, author := documentMetadata(docxPath)
	return strings.Join([]string{
		"<!DOCTYPE html>",
		"<html>",
		"<head>",
		`<meta charset="utf-8"/>`,
		`<meta name="author" content="` + stdhtml.EscapeString(author) + `"/>`,
		"<title>" + stdhtml.EscapeString(title) + "</title>",
		"</head>",
		buf.String(),
		"</html>",
	}, "\n"), nil
}
