package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanreader/internal/models"
)

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) SortedLanguages(ctx context.Context) ([]models.Language, error) {
	return []models.Language{
		{Code: "eng", Name: "English"},
		{Code: "heb", Name: "Hebrew", RTL: true},
	}, nil
}

func (stubEngine) PreprocessAndRecognize(ctx context.Context, req models.OcrRequest) (models.OcrResult, error) {
	return models.OcrResult{Cookie: req.Cookie, RecognizedText: "scanned " + req.Language.Code}, nil
}

// workspace isolates config lookup and storage in a temp dir.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("READER_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("READER_OCR_GHOSTSCRIPT", "gs-not-installed")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&env{stdout: &stdout, stderr: &stderr, engine: stubEngine{}})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeImage(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 6, 6))))
}

func TestLanguagesCommand(t *testing.T) {
	workspace(t)

	out, _, err := run(t, "languages")
	require.NoError(t, err)
	assert.Contains(t, out, "English")
	assert.Contains(t, out, "rtl")

	out, _, err = run(t, "languages", "-o", "json")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "heb", rows[1]["code"])
	assert.Equal(t, "rtl", rows[1]["direction"])

	_, _, err = run(t, "languages", "-o", "xml")
	assert.Error(t, err)
}

func TestScanCommand(t *testing.T) {
	dir := workspace(t)
	path := filepath.Join(dir, "page.png")
	writeImage(t, path)

	out, _, err := run(t, "scan", path)
	require.NoError(t, err)
	assert.Equal(t, "scanned eng\n", out)

	out, _, err = run(t, "-q", "scan", path, "--language", "heb", "--pipeline", "grayscale")
	require.NoError(t, err)
	assert.Equal(t, "scanned heb\n", out)
}

func TestScanCommandErrors(t *testing.T) {
	dir := workspace(t)
	path := filepath.Join(dir, "page.png")
	writeImage(t, path)

	_, _, err := run(t, "scan", path, "--language", "tlh")
	assert.ErrorIs(t, err, errNotStarted)

	_, _, err = run(t, "scan", path, "--page", "2")
	assert.Error(t, err)

	_, _, err = run(t, "scan")
	assert.Error(t, err)
}

func TestImageCommand(t *testing.T) {
	dir := workspace(t)
	path := filepath.Join(dir, "receipt.png")
	writeImage(t, path)

	out, _, err := run(t, "image", path, "-l", "eng")
	require.NoError(t, err)
	assert.Equal(t, "scanned eng\n", out)

	_, _, err = run(t, "image", filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestExtractAndHistoryCommands(t *testing.T) {
	dir := workspace(t)
	path := filepath.Join(dir, "book.png")
	writeImage(t, path)

	_, stderr, err := run(t, "extract", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "1 of 1 pages written to")

	data, err := os.ReadFile(filepath.Join(dir, "book.txt"))
	require.NoError(t, err)
	assert.Equal(t, "scanned eng\n", string(data))

	out, _, err := run(t, "history", "-o", "json")
	require.NoError(t, err)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "complete", rows[0]["status"])
	assert.Equal(t, "1/1", rows[0]["pages"])
}

func TestConvertCommandMissingFile(t *testing.T) {
	dir := workspace(t)
	_, _, err := run(t, "convert", filepath.Join(dir, "missing.docx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
