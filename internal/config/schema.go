package config

import (
	"time"

	"github.com/jackzampolin/brieflink/internal/index"
	"github.com/jackzampolin/brieflink/internal/ingest"
	"github.com/jackzampolin/brieflink/internal/ocr"
	"github.com/jackzampolin/brieflink/internal/providers"
)

// Config holds brieflink configuration.
// Stored at: {home}/config.yaml
type Config struct {
	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	OCR          OCRCfg                    `mapstructure:"ocr" yaml:"ocr"`
	Index        index.Weights             `mapstructure:"index" yaml:"index"`
	Ingest       IngestCfg                 `mapstructure:"ingest" yaml:"ingest"`
	Store        StoreCfg                  `mapstructure:"store" yaml:"store"`
}

// OCRProviderCfg configures an OCR provider.
type OCRProviderCfg struct {
	Type       string        `mapstructure:"type" yaml:"type"`             // "mistral-ocr", "openai-vision", "tesseract", "mock"
	Model      string        `mapstructure:"model" yaml:"model"`           // Model name (optional)
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`     // Override the engine endpoint
	Language   string        `mapstructure:"language" yaml:"language"`     // Tesseract language
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
}

// OCRCfg holds the batch pipeline tunables.
type OCRCfg struct {
	BatchSize     int     `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency   int     `mapstructure:"concurrency" yaml:"concurrency"`
	Provider      string  `mapstructure:"provider" yaml:"provider"` // Key into ocr_providers
	RenderDPI     int     `mapstructure:"render_dpi" yaml:"render_dpi"`
	RetryDPI      int     `mapstructure:"retry_dpi" yaml:"retry_dpi"`
	LowConfidence float64 `mapstructure:"low_confidence" yaml:"low_confidence"`
	Pdftoppm      string  `mapstructure:"pdftoppm" yaml:"pdftoppm"` // Renderer binary
}

// IngestCfg configures async result ingestion.
type IngestCfg struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts" yaml:"poll_max_attempts"`
	PollCeiling     time.Duration `mapstructure:"poll_ceiling" yaml:"poll_ceiling"`
	BundleRoot      string        `mapstructure:"bundle_root" yaml:"bundle_root"` // Local bundles must live here (default: {home}/data/bundles)
	GCS             GCSCfg        `mapstructure:"gcs" yaml:"gcs"`
}

// GCSCfg configures the Cloud Storage bundle store.
type GCSCfg struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"` // Empty uses application default credentials
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`                 // Emulator endpoint (optional)
}

// StoreCfg configures the SQLite database.
type StoreCfg struct {
	// Path to the database file (default: {home}/data/brieflink.db)
	Path        string        `mapstructure:"path" yaml:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OCRProviders: map[string]OCRProviderCfg{
			providers.MistralOCRName: {
				Type:       "mistral-ocr",
				APIKey:     "${MISTRAL_API_KEY}",
				RateLimit:  6.0,
				MaxRetries: 3,
				RetryDelay: 2 * time.Second,
				Enabled:    true,
			},
			providers.OpenAIVisionName: {
				Type:       "openai-vision",
				Model:      "gpt-4o-mini",
				APIKey:     "${OPENAI_API_KEY}",
				RateLimit:  4.0,
				MaxRetries: 3,
				RetryDelay: 2 * time.Second,
				Enabled:    false,
			},
		},
		OCR: OCRCfg{
			BatchSize:     ocr.DefaultBatchSize,
			Concurrency:   ocr.DefaultConcurrency,
			Provider:      providers.MistralOCRName,
			RenderDPI:     ocr.DefaultRenderDPI,
			RetryDPI:      ocr.DefaultRetryDPI,
			LowConfidence: ocr.DefaultLowConfidence,
			Pdftoppm:      "pdftoppm",
		},
		Index: index.DefaultWeights(),
		Ingest: IngestCfg{
			PollInterval:    ingest.DefaultPollInterval,
			PollMaxAttempts: ingest.DefaultPollMaxAttempts,
			PollCeiling:     ingest.DefaultPollCeiling,
		},
		Store: StoreCfg{
			BusyTimeout: 10 * time.Second,
		},
	}
}

// GetOCRProvider returns an OCR provider config by name.
func (c *Config) GetOCRProvider(name string) (OCRProviderCfg, bool) {
	cfg, ok := c.OCRProviders[name]
	return cfg, ok
}

// EnabledOCRProviders returns all enabled OCR providers.
func (c *Config) EnabledOCRProviders() map[string]OCRProviderCfg {
	result := make(map[string]OCRProviderCfg)
	for name, cfg := range c.OCRProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// SchedulerSettings converts the ocr section for the batch scheduler.
func (c *Config) SchedulerSettings() ocr.Settings {
	return ocr.Settings{
		BatchSize:     c.OCR.BatchSize,
		Concurrency:   c.OCR.Concurrency,
		Provider:      c.OCR.Provider,
		RenderDPI:     c.OCR.RenderDPI,
		RetryDPI:      c.OCR.RetryDPI,
		LowConfidence: c.OCR.LowConfidence,
	}
}

// PollSettings converts the ingest section for the poller.
func (c *Config) PollSettings() ingest.PollSettings {
	return ingest.PollSettings{
		Interval:    c.Ingest.PollInterval,
		MaxAttempts: c.Ingest.PollMaxAttempts,
		Ceiling:     c.Ingest.PollCeiling,
	}
}
