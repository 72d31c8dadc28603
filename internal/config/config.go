package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"scanreader/internal/ocr"
)

// Config stores runtime configuration loaded from reader.yaml, the
// environment (READER_* variables) and built-in defaults.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUpload    int64         `mapstructure:"max_upload"`
}

type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	Database  string `mapstructure:"database"`
	UploadDir string `mapstructure:"upload_dir"`
}

type OCRConfig struct {
	Engine           string   `mapstructure:"engine"`
	Workers          int      `mapstructure:"workers"`
	TessdataPrefix   string   `mapstructure:"tessdata_prefix"`
	Languages        []string `mapstructure:"languages"`
	Ghostscript      string   `mapstructure:"ghostscript"`
	VisionAPIKey     string   `mapstructure:"vision_api_key"`
	VisionBaseURL    string   `mapstructure:"vision_base_url"`
	VisionModel      string   `mapstructure:"vision_model"`
	VisionRatePerMin int      `mapstructure:"vision_rate_per_min"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig converts the OCR section to the engine factory's configuration.
func (c OCRConfig) EngineConfig() ocr.Config {
	return ocr.Config{
		Engine:           c.Engine,
		TessdataPrefix:   c.TessdataPrefix,
		Languages:        c.Languages,
		VisionAPIKey:     c.VisionAPIKey,
		VisionBaseURL:    c.VisionBaseURL,
		VisionModel:      c.VisionModel,
		VisionRatePerMin: c.VisionRatePerMin,
	}
}

// Load reads the configuration. configFile overrides the reader.yaml lookup
// in the working directory and ./config when non-empty.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("reader")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("READER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.OCR.VisionAPIKey == "" {
		cfg.OCR.VisionAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Storage.Database == "" {
		cfg.Storage.Database = filepath.Join(cfg.Storage.DataDir, "reader.db")
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.Storage.DataDir, "uploads")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.UploadDir, filepath.Dir(cfg.Storage.Database)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_upload", 64<<20)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.database", "")
	v.SetDefault("storage.upload_dir", "")

	v.SetDefault("ocr.engine", "")
	v.SetDefault("ocr.workers", 2)
	v.SetDefault("ocr.tessdata_prefix", "")
	v.SetDefault("ocr.languages", []string{})
	v.SetDefault("ocr.ghostscript", "gs")
	v.SetDefault("ocr.vision_api_key", "")
	v.SetDefault("ocr.vision_base_url", "https://api.openai.com/v1")
	v.SetDefault("ocr.vision_model", "gpt-4o-mini")
	v.SetDefault("ocr.vision_rate_per_min", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) Validate() error {
	switch c.OCR.Engine {
	case "", "tesseract", "vision":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.OCR.Engine)
	}
	if c.OCR.Workers < 1 {
		return fmt.Errorf("ocr.workers must be at least 1, got %d", c.OCR.Workers)
	}
	if c.OCR.VisionRatePerMin < 0 {
		return fmt.Errorf("ocr.vision_rate_per_min must not be negative")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Server.MaxUpload <= 0 {
		return fmt.Errorf("server.max_upload must be positive")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
