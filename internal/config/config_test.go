package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("READER_OCR_VISION_API_KEY", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)
	t.Setenv("READER_STORAGE_DATA_DIR", filepath.Join(dir, "state"))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2, cfg.OCR.Workers)
	assert.Equal(t, "gpt-4o-mini", cfg.OCR.VisionModel)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, filepath.Join(dir, "state", "reader.db"), cfg.Storage.Database)
	assert.Equal(t, filepath.Join(dir, "state", "uploads"), cfg.Storage.UploadDir)

	info, err := os.Stat(cfg.Storage.UploadDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := isolate(t)
	file := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
storage:
  data_dir: `+filepath.Join(dir, "data")+`
ocr:
  engine: vision
  workers: 3
  languages: [eng, ara]
log:
  level: debug
  format: json
`), 0o644))
	t.Setenv("READER_OCR_WORKERS", "5")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "vision", cfg.OCR.Engine)
	assert.Equal(t, 5, cfg.OCR.Workers)
	assert.Equal(t, []string{"eng", "ara"}, cfg.OCR.Languages)
	assert.Equal(t, "sk-test", cfg.OCR.VisionAPIKey)
	assert.Equal(t, "json", cfg.Log.Format)

	engine := cfg.OCR.EngineConfig()
	assert.Equal(t, "vision", engine.Engine)
	assert.Equal(t, []string{"eng", "ara"}, engine.Languages)
}

func TestLoadLanguagesFromEnvironment(t *testing.T) {
	dir := isolate(t)
	t.Setenv("READER_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("READER_OCR_LANGUAGES", "eng,fra")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"eng", "fra"}, cfg.OCR.Languages)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"READER_OCR_ENGINE":  "abbyy",
		"READER_OCR_WORKERS": "0",
		"READER_LOG_FORMAT":  "xml",
		"READER_LOG_LEVEL":   "loud",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			dir := isolate(t)
			t.Setenv("READER_STORAGE_DATA_DIR", filepath.Join(dir, "data"))
			t.Setenv(key, value)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}
