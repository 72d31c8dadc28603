package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanreader/internal/db"
	"scanreader/internal/models"
)

func openTestDB(t *testing.T) (string, *DocumentService, *RunService) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "reader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return dir, NewDocumentService(conn, filepath.Join(dir, "uploads")), NewRunService(conn)
}

func TestSaveUploadKeepsExtension(t *testing.T) {
	dir, docs, _ := openTestDB(t)

	path, err := docs.SaveUpload(context.Background(), "My Scan.PDF", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "uploads"), filepath.Dir(path))
	assert.Equal(t, ".PDF", filepath.Ext(path))
	assert.Equal(t, "pdf", URIFromFilename(path).Format)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestRecordConversionUpsertsByHash(t *testing.T) {
	_, docs, _ := openTestDB(t)
	ctx := context.Background()

	first, err := docs.RecordConversion(ctx, models.ConvertedDocument{
		SourcePath: "/a.docx", ContentHash: "abc", HTMLPath: "/data/abc.html", Title: "A",
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := docs.RecordConversion(ctx, models.ConvertedDocument{
		SourcePath: "/b.docx", ContentHash: "abc", HTMLPath: "/data/abc.html", Title: "A", Author: "Sam",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "/b.docx", second.SourcePath)
	assert.Equal(t, "Sam", second.Author)

	list, err := docs.ListConversions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = docs.GetConversion(ctx, "missing")
	assert.Error(t, err)
}

func TestRunLifecycle(t *testing.T) {
	_, _, runs := openTestDB(t)
	ctx := context.Background()

	run, err := runs.Start(ctx, "/books/a.pdf", "/out/a.txt", 10)
	require.NoError(t, err)
	require.NoError(t, runs.UpdateProgress(ctx, run.ID, 4))

	got, err := runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionRunning, got.Status)
	assert.Equal(t, 4, got.PagesDone)
	assert.False(t, got.FinishedAt.Valid)

	require.NoError(t, runs.Finish(ctx, run.ID, models.ExtractionFailed, 4, errors.New("scan page 5 of 10: boom")))
	got, err = runs.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, got.Status)
	assert.True(t, got.Error.Valid)
	assert.Equal(t, "scan page 5 of 10: boom", got.Error.String)
	assert.True(t, got.FinishedAt.Valid)

	_, err = runs.Get(ctx, "nope")
	assert.Error(t, err)
}
