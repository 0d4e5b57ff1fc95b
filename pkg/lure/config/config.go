// Package config loads lure settings from an optional YAML file, an optional
// .env file, and LURE_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port     string `yaml:"port"`
		BaseURL  string `yaml:"base_url"`  // Public origin used in preview and launch URLs
		BasePath string `yaml:"base_path"` // Path prefix the app is mounted under, e.g. "/training"
		Debug    bool   `yaml:"debug"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver"` // "sqlite" or "postgres"
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Content struct {
		Root           string `yaml:"root"`
		EntryDocument  string `yaml:"entry_document"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	} `yaml:"content"`

	Annotation AnnotationConfig `yaml:"annotation"`
	Assets     AssetsConfig     `yaml:"assets"`

	Tracking struct {
		PassingScore     int    `yaml:"passing_score"`
		PreviewRecipient string `yaml:"preview_recipient"`
	} `yaml:"tracking"`

	NATS struct {
		URL     string `yaml:"url"` // Empty disables JetStream publishing
		Subject string `yaml:"subject"`
		Stream  string `yaml:"stream"`
	} `yaml:"nats"`
}

// AnnotationConfig configures the remote text-generation service.
type AnnotationConfig struct {
	Provider   string        `yaml:"provider"` // "anthropic" or "gemini"
	APIURL     string        `yaml:"api_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	CacheSize  int           `yaml:"cache_size"`

	// Documents larger than ChunkThreshold are split before annotation.
	ChunkThreshold int `yaml:"chunk_threshold_bytes"`
	// Documents larger than MaxBytes skip annotation entirely.
	MaxBytes int `yaml:"max_bytes"`
	// Strict makes a failed single-pass annotation reject the upload instead of
	// falling back to the unannotated document.
	Strict bool `yaml:"strict"`
}

// AssetsConfig configures asset mirroring.
type AssetsConfig struct {
	SystemOrigin string        `yaml:"system_origin"` // Trusted origin serving /system/ paths
	SystemPrefix string        `yaml:"system_prefix"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	MaxBytes     int64         `yaml:"max_bytes"`
}

// Load reads configuration. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	cfg.Annotation.APIKey = os.ExpandEnv(cfg.Annotation.APIKey)
	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Annotation.Provider {
	case "anthropic", "gemini":
	default:
		return fmt.Errorf("unsupported annotation provider %q", c.Annotation.Provider)
	}
	if c.Tracking.PassingScore < 0 || c.Tracking.PassingScore > 100 {
		return fmt.Errorf("passing_score must be between 0 and 100, got %d", c.Tracking.PassingScore)
	}
	if c.Annotation.ChunkThreshold > c.Annotation.MaxBytes {
		return fmt.Errorf("chunk_threshold_bytes (%d) exceeds max_bytes (%d)", c.Annotation.ChunkThreshold, c.Annotation.MaxBytes)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.Port, "LURE_PORT")
	setString(&cfg.Server.BaseURL, "LURE_BASE_URL")
	setString(&cfg.Server.BasePath, "LURE_BASE_PATH")
	setBool(&cfg.Server.Debug, "LURE_DEBUG")
	setString(&cfg.Database.Driver, "LURE_DB_DRIVER")
	setString(&cfg.Database.DSN, "LURE_DB_DSN")
	setString(&cfg.Content.Root, "LURE_CONTENT_ROOT")
	setString(&cfg.Annotation.Provider, "LURE_ANNOTATION_PROVIDER")
	setString(&cfg.Annotation.APIURL, "LURE_ANNOTATION_URL")
	setString(&cfg.Annotation.APIKey, "LURE_ANNOTATION_API_KEY")
	setString(&cfg.Annotation.Model, "LURE_ANNOTATION_MODEL")
	setBool(&cfg.Annotation.Strict, "LURE_ANNOTATION_STRICT")
	setString(&cfg.Assets.SystemOrigin, "LURE_SYSTEM_ORIGIN")
	setInt(&cfg.Tracking.PassingScore, "LURE_PASSING_SCORE")
	setString(&cfg.NATS.URL, "LURE_NATS_URL")
	setString(&cfg.NATS.Subject, "LURE_NATS_SUBJECT")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = "http://localhost:" + cfg.Server.Port
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "lure.db"
	}
	if cfg.Content.Root == "" {
		cfg.Content.Root = "./content"
	}
	if cfg.Content.EntryDocument == "" {
		cfg.Content.EntryDocument = "index.html"
	}
	if cfg.Content.MaxUploadBytes == 0 {
		cfg.Content.MaxUploadBytes = 100 << 20
	}

	a := &cfg.Annotation
	if a.Provider == "" {
		a.Provider = "anthropic"
	}
	if a.APIURL == "" && a.Provider == "anthropic" {
		a.APIURL = "https://api.anthropic.com/v1/messages"
	}
	if a.Model == "" {
		if a.Provider == "gemini" {
			a.Model = "gemini-2.0-flash"
		} else {
			a.Model = "claude-3-5-sonnet-20241022"
		}
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 4096
	}
	if a.Timeout == 0 {
		a.Timeout = 120 * time.Second
	}
	if a.MaxRetries == 0 {
		a.MaxRetries = 2
	}
	if a.RetryDelay == 0 {
		a.RetryDelay = 2 * time.Second
	}
	if a.CacheSize == 0 {
		a.CacheSize = 128
	}
	if a.ChunkThreshold == 0 {
		a.ChunkThreshold = 150_000
	}
	if a.MaxBytes == 0 {
		a.MaxBytes = 500_000
	}

	if cfg.Assets.SystemPrefix == "" {
		cfg.Assets.SystemPrefix = "/system/"
	}
	if cfg.Assets.Timeout == 0 {
		cfg.Assets.Timeout = 30 * time.Second
	}
	if cfg.Assets.MaxRetries == 0 {
		cfg.Assets.MaxRetries = 3
	}
	if cfg.Assets.MaxBytes == 0 {
		cfg.Assets.MaxBytes = 50 << 20
	}

	if cfg.Tracking.PassingScore == 0 {
		cfg.Tracking.PassingScore = 80
	}
	if cfg.Tracking.PreviewRecipient == "" {
		cfg.Tracking.PreviewRecipient = "preview"
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "lure.interactions"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "LURE_INTERACTIONS"
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
