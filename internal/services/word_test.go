package services

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanreader/internal/db"
	"scanreader/internal/metrics"
)

const testDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Intro</w:t></w:r></w:p>
<w:p><w:r><w:rPr><w:b/></w:rPr><w:t>Bold</w:t></w:r><w:r><w:t xml:space="preserve"> and </w:t></w:r><w:hyperlink r:id="rId9"><w:r><w:t>link</w:t></w:r></w:hyperlink></w:p>
<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="1"/></w:numPr></w:pPr><w:r><w:t>one</w:t></w:r></w:p>
<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="1"/></w:numPr></w:pPr><w:r><w:t>two</w:t></w:r></w:p>
<w:p><w:r><w:t>Fish &amp; chips</w:t></w:r></w:p>
<w:sectPr/>
</w:body>
</w:document>`

const testRelsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId9" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://example.com/" TargetMode="External"/>
</Relationships>`

func coreXML(title, author string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>` + title + `</dc:title>
<dc:creator>` + author + `</dc:creator>
</cp:coreProperties>`
}

func writeDocx(t *testing.T, path, title, author string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := map[string]string{
		"word/document.xml":            testDocumentXML,
		"word/_rels/document.xml.rels": testRelsXML,
		"docProps/core.xml":            coreXML(title, author),
	}
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

type countingConverter struct {
	calls atomic.Int32
	html  string
}

func (c *countingConverter) ConvertToHTML(ctx context.Context, path string) (string, error) {
	c.calls.Add(1)
	return c.html, nil
}

const rawConverted = `<html><head><style>p { color: red }</style></head><body><p>Hello <a href="https://example.com/">world</a></p><img src="media/image1.png"/><style>.x{}</style></body></html>`

func TestDocxHTMLConverter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	writeDocx(t, path, "Report", "Jane")

	out, err := DocxHTMLConverter{}.ConvertToHTML(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t,
		`<html><body><h1>Intro</h1>`+
			`<p><strong>Bold</strong> and <a href="https://example.com/">link</a></p>`+
			`<ul><li>one</li><li>two</li></ul>`+
			`<p>Fish &amp; chips</p>`+
			`</body></html>`,
		out)
}

func TestHeadingTag(t *testing.T) {
	assert.Equal(t, "h1", headingTag("Title"))
	assert.Equal(t, "h2", headingTag("Heading2"))
	assert.Equal(t, "h3", headingTag("heading 3"))
	assert.Equal(t, "p", headingTag("Heading9"))
	assert.Equal(t, "p", headingTag("BodyText"))
}

func TestMakeProperHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annual.docx")
	writeDocx(t, path, "Annual Report", "Jane &amp; Co")

	out, err := MakeProperHTML(rawConverted, path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"<!DOCTYPE html>",
		"<html>",
		"<head>",
		`<meta charset="utf-8"/>`,
		`<meta name="author" content="Jane &amp; Co"/>`,
		"<title>Annual Report</title>",
		"</head>",
		"<body><p>Hello world</p></body>",
		"</html>",
	}, "\n"), out)
}

func TestMakeProperHTMLTitleFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()

	generic := filepath.Join(dir, "minutes.docx")
	writeDocx(t, generic, "Word Document", "")
	out, err := MakeProperHTML(rawConverted, generic)
	require.NoError(t, err)
	assert.Contains(t, out, "<title>minutes</title>")

	notZip := filepath.Join(dir, "broken.docx")
	require.NoError(t, os.WriteFile(notZip, []byte("not a zip"), 0o644))
	out, err = MakeProperHTML(rawConverted, notZip)
	require.NoError(t, err)
	assert.Contains(t, out, "<title>broken</title>")
	assert.Contains(t, out, `<meta name="author" content=""/>`)
}

func newTestConverter(t *testing.T, conv HTMLConverter) (*WordConverter, *DocumentService) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "reader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	docs := NewDocumentService(conn, filepath.Join(dir, "uploads"))
	return NewWordConverter(dir, conv, docs, metrics.New()), docs
}

func TestConvertedFilenameReusesCachedConversion(t *testing.T) {
	conv := &countingConverter{html: rawConverted}
	wc, docs := newTestConverter(t, conv)

	src := filepath.Join(t.TempDir(), "notes.docx")
	writeDocx(t, src, "Notes", "Sam")

	first, err := wc.ConvertedFilename(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, wc.StorageDir(), filepath.Dir(first))
	assert.Equal(t, ".html", filepath.Ext(first))
	assert.Len(t, strings.TrimSuffix(filepath.Base(first), ".html"), 32)

	second, err := wc.ConvertedFilename(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, conv.calls.Load())

	writeDocx(t, src, "Notes, revised", "Sam")
	third, err := wc.ConvertedFilename(context.Background(), src)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.EqualValues(t, 2, conv.calls.Load())

	list, err := docs.ListConversions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)

	entries, err := os.ReadDir(wc.StorageDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type failingConverter struct{}

func (failingConverter) ConvertToHTML(ctx context.Context, path string) (string, error) {
	return "", errors.New("converter crashed")
}

func TestWordConverterRedirectsLoaderToHTML(t *testing.T) {
	wc, _ := newTestConverter(t, &countingConverter{html: rawConverted})
	src := filepath.Join(t.TempDir(), "letter.docx")
	writeDocx(t, src, "Dear Reader", "Sam")
	uri := URIFromFilename(src)

	err := wc.Read(context.Background(), uri)
	var change *ChangeDocumentError
	require.ErrorAs(t, err, &change)
	assert.Equal(t, uri, change.OldURI)
	assert.Equal(t, "html", change.NewURI.Format)
	assert.Equal(t, "Docx converted to html", change.Reason)

	loader := NewDefaultLoader(nil, wc)
	doc, err := loader.Open(context.Background(), uri)
	require.NoError(t, err)
	defer doc.Close()
	assert.Equal(t, "Dear Reader", doc.Title())
	assert.False(t, doc.CanRenderPages())
	text, err := doc.PageText(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestWordConverterReportsConversionFailure(t *testing.T) {
	wc, _ := newTestConverter(t, failingConverter{})
	src := filepath.Join(t.TempDir(), "letter.docx")
	writeDocx(t, src, "Dear Reader", "Sam")

	err := wc.Read(context.Background(), URIFromFilename(src))
	require.Error(t, err)
	var change *ChangeDocumentError
	assert.False(t, errors.As(err, &change))
	assert.Contains(t, err.Error(), "converter crashed")

	_, statErr := os.Stat(wc.StorageDir())
	assert.NoError(t, statErr)
}
