package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry holds OCR providers and one rate limiter per provider.
// It supports config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]OCRProvider
	limiters  map[string]*RateLimiter
	configs   map[string]OCRProviderConfig
	logger    *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]OCRProvider),
		limiters:  make(map[string]*RateLimiter),
		configs:   make(map[string]OCRProviderConfig),
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds or replaces a provider by name.
func (r *Registry) Register(name string, provider OCRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	r.limiters[name] = NewRateLimiter(provider.RequestsPerSecond())
	r.logger.Info("registered OCR provider", "name", name)
}

// Unregister removes a provider by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
	delete(r.limiters, name)
	delete(r.configs, name)
	r.logger.Info("unregistered OCR provider", "name", name)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (OCRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("OCR provider not found: %s", name)
	}
	return provider, nil
}

// Limiter returns the shared rate limiter for a provider, or nil if unknown.
func (r *Registry) Limiter(name string) *RateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if a provider is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	OCRProviders map[string]OCRProviderConfig
}

// OCRProviderConfig is one configured engine with its API key already resolved.
type OCRProviderConfig struct {
	Type       string // "mistral-ocr", "openai-vision", "tesseract", "mock"
	Model      string
	APIKey     string
	BaseURL    string
	Language   string  // tesseract language, e.g. "eng"
	RateLimit  float64 // Requests per second
	MaxRetries int
	RetryDelay time.Duration
	Enabled    bool
}

func (c OCRProviderConfig) needsKey() bool {
	switch c.Type {
	case "tesseract", "mock":
		return false
	}
	return true
}

func (c OCRProviderConfig) usable() bool {
	return c.Enabled && (!c.needsKey() || c.APIKey != "")
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with the credentials they need are registered.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry()
	if logger != nil {
		r.logger = logger
	}
	r.Reload(cfg)
	return r
}

// Reload reconciles the registry with cfg. Providers that are no longer
// configured are removed; providers whose settings changed are rebuilt.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.OCRProviders {
		if !provCfg.usable() {
			continue
		}
		want[name] = true

		prev, hasExisting := r.configs[name]
		if hasExisting && prev == provCfg {
			continue
		}
		provider, err := createOCRProvider(provCfg)
		if err != nil {
			r.logger.Warn("skipping OCR provider", "name", name, "type", provCfg.Type, "error", err)
			delete(want, name)
			continue
		}
		r.providers[name] = provider
		r.limiters[name] = NewRateLimiter(provider.RequestsPerSecond())
		r.configs[name] = provCfg
		if hasExisting {
			r.logger.Info("updated OCR provider", "name", name, "type", provCfg.Type)
		} else {
			r.logger.Info("registered OCR provider", "name", name, "type", provCfg.Type)
		}
	}

	for name := range r.configs {
		if !want[name] {
			delete(r.providers, name)
			delete(r.limiters, name)
			delete(r.configs, name)
			r.logger.Info("unregistered OCR provider", "name", name)
		}
	}
}

func createOCRProvider(cfg OCRProviderConfig) (OCRProvider, error) {
	switch cfg.Type {
	case "mistral-ocr":
		return NewMistralOCRClient(MistralOCRConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}), nil
	case "openai-vision":
		return NewOpenAIVisionClient(OpenAIVisionConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			RateLimit:  cfg.RateLimit,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}), nil
	case "tesseract":
		return NewTesseractProvider(TesseractConfig{
			Language:  cfg.Language,
			RateLimit: cfg.RateLimit,
		})
	case "mock":
		p := NewMockOCRProvider()
		if cfg.RateLimit > 0 {
			p.RPS = cfg.RateLimit
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown OCR provider type %q", cfg.Type)
	}
}
