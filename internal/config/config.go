package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/brieflink/internal/index"
	"github.com/jackzampolin/brieflink/internal/providers"
)

// EnvPrefix prefixes environment overrides, e.g. BRIEFLINK_OCR_CONCURRENCY.
const EnvPrefix = "BRIEFLINK"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// An empty cfgFile searches ./config.yaml and ~/.brieflink/config.yaml.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	if err := setDefaults(v, DefaultConfig()); err != nil {
		return err
	}

	// Environment variables with BRIEFLINK_ prefix; nested keys use underscores.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.brieflink")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf of cfg as its own default, so a config
// file that sets one key in a section keeps the defaults for the rest.
// Providers are registered as one value: a config file that lists
// providers replaces the default set.
func setDefaults(v *viper.Viper, cfg *Config) error {
	v.SetDefault("ocr_providers", cfg.OCRProviders)

	data, err := yaml.Marshal(struct {
		OCR    OCRCfg        `yaml:"ocr"`
		Index  index.Weights `yaml:"index"`
		Ingest IngestCfg     `yaml:"ingest"`
		Store  StoreCfg      `yaml:"store"`
	}{cfg.OCR, cfg.Index, cfg.Ingest, cfg.Store})
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to parse defaults: %w", err)
	}
	setLeaves(v, "", tree)
	return nil
}

func setLeaves(v *viper.Viper, prefix string, node any) {
	switch n := node.(type) {
	case map[string]any:
		for k, child := range n {
			setLeaves(v, join(prefix, k), child)
		}
	case map[any]any:
		for k, child := range n {
			setLeaves(v, join(prefix, fmt.Sprint(k)), child)
		}
	default:
		v.SetDefault(prefix, n)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// FileUsed returns the config file that was read, if any.
func (cm *Manager) FileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// A file that fails to parse keeps the previous configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		OCRProviders: make(map[string]providers.OCRProviderConfig),
	}

	for name, ocr := range c.OCRProviders {
		cfg.OCRProviders[name] = providers.OCRProviderConfig{
			Type:       ocr.Type,
			Model:      ocr.Model,
			APIKey:     ResolveEnvVars(ocr.APIKey),
			BaseURL:    ocr.BaseURL,
			Language:   ocr.Language,
			RateLimit:  ocr.RateLimit,
			MaxRetries: ocr.MaxRetries,
			RetryDelay: ocr.RetryDelay,
			Enabled:    ocr.Enabled,
		}
	}

	return cfg
}

// durationKeys are written as "10s" rather than nanoseconds.
var durationKeys = map[string]bool{
	"retry_delay":   true,
	"poll_interval": true,
	"poll_ceiling":  true,
	"busy_timeout":  true,
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc yaml.MapSlice
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to reparse config: %w", err)
	}
	doc = humanizeDurations(doc)
	if data, err = yaml.Marshal(doc); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# brieflink configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export MISTRAL_API_KEY=xxx OPENAI_API_KEY=xxx
# Any scalar can be overridden with BRIEFLINK_<SECTION>_<KEY>, e.g. BRIEFLINK_OCR_CONCURRENCY=4

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

func humanizeDurations(in yaml.MapSlice) yaml.MapSlice {
	for i, item := range in {
		switch v := item.Value.(type) {
		case yaml.MapSlice:
			in[i].Value = humanizeDurations(v)
		case int:
			if key, ok := item.Key.(string); ok && durationKeys[key] {
				in[i].Value = time.Duration(v).String()
			}
		}
	}
	return in
}
