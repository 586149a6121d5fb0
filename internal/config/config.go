package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"convoforge/internal/models"
)

const (
	APIStyleOpenAI    = "openai"
	APIStyleAnthropic = "anthropic"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"

	defaultPort           = 8080
	defaultRequestTimeout = 60 * time.Second
	defaultMockDelay      = 50 * time.Millisecond
)

// Config represents the application configuration.
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	DefaultProvider string                    `yaml:"default_provider"`
	Mock            bool                      `yaml:"mock"`
	RequestTimeout  time.Duration             `yaml:"request_timeout"`
	MockDelay       time.Duration             `yaml:"mock_delay"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProviderConfig is the per-provider service configuration. It is read-only
// once loaded.
type ProviderConfig struct {
	APIKey      string               `yaml:"api_key"`
	Model       string               `yaml:"model"`
	Temperature *float64             `yaml:"temperature"`
	MaxTokens   *int                 `yaml:"max_tokens"`
	BaseURL     string               `yaml:"base_url"`
	Name        string               `yaml:"name"`
	APIStyle    string               `yaml:"api_style"`
	Headers     map[string]string    `yaml:"headers"`
	Models      []models.ModelOption `yaml:"models"`
}

// HasCredentials reports whether an API key is configured.
func (p ProviderConfig) HasCredentials() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server:          ServerConfig{Port: defaultPort},
		DefaultProvider: ProviderOpenAI,
		RequestTimeout:  defaultRequestTimeout,
		MockDelay:       defaultMockDelay,
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {
				Model:       "gpt-4-turbo-preview",
				Temperature: models.Float(0.7),
				MaxTokens:   models.Int(2048),
				BaseURL:     "https://api.openai.com",
			},
			ProviderAnthropic: {
				Model:       "claude-3-opus-20240229",
				Temperature: models.Float(0.7),
				MaxTokens:   models.Int(2048),
				BaseURL:     "https://api.anthropic.com",
			},
		},
	}
}

// Load reads configuration from the optional YAML file at path, overlays
// environment variables and validates the result. A .env file in the working
// directory is loaded first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := Parse([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Provider entries are merged over the
// entries already present so that a file only has to name what it changes.
func Parse(data []byte, cfg *Config) error {
	base := cfg.Providers
	cfg.Providers = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}

	merged := make(map[string]ProviderConfig, len(base)+len(cfg.Providers))
	for id, p := range base {
		merged[id] = p
	}
	for id, p := range cfg.Providers {
		merged[id] = mergeProvider(merged[id], p)
	}
	cfg.Providers = merged
	return nil
}

func mergeProvider(base, override ProviderConfig) ProviderConfig {
	out := base
	if override.APIKey != "" {
		out.APIKey = override.APIKey
	}
	if override.Model != "" {
		out.Model = override.Model
	}
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.MaxTokens != nil {
		out.MaxTokens = override.MaxTokens
	}
	if override.BaseURL != "" {
		out.BaseURL = override.BaseURL
	}
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.APIStyle != "" {
		out.APIStyle = override.APIStyle
	}
	if override.Headers != nil {
		out.Headers = override.Headers
	}
	if override.Models != nil {
		out.Models = override.Models
	}
	return out
}

func applyEnv(cfg *Config) error {
	envKeys := map[string]string{
		ProviderOpenAI:    "OPENAI_API_KEY",
		ProviderAnthropic: "ANTHROPIC_API_KEY",
	}
	for id, key := range envKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			p := cfg.Providers[id]
			if p.APIKey == "" {
				p.APIKey = v
				cfg.Providers[id] = p
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("CONVOFORGE_DEFAULT_PROVIDER")); v != "" {
		cfg.DefaultProvider = v
	}
	if v := strings.TrimSpace(os.Getenv("CONVOFORGE_MOCK")); v != "" {
		mock, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONVOFORGE_MOCK must be a boolean, got %q", v)
		}
		cfg.Mock = mock
	}
	if v := strings.TrimSpace(os.Getenv("CONVOFORGE_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONVOFORGE_PORT must be an integer, got %q", v)
		}
		cfg.Server.Port = port
	}
	return nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MockDelay < 0 {
		return fmt.Errorf("mock_delay must not be negative, got %s", c.MockDelay)
	}

	for id, p := range c.Providers {
		if err := validateProvider(id, p); err != nil {
			return err
		}
	}
	return nil
}

// Style returns the wire style a provider id speaks.
func (p ProviderConfig) Style(id string) string {
	if p.APIStyle != "" {
		return strings.ToLower(strings.TrimSpace(p.APIStyle))
	}
	switch id {
	case ProviderOpenAI:
		return APIStyleOpenAI
	case ProviderAnthropic:
		return APIStyleAnthropic
	}
	return ""
}

func validateProvider(id string, p ProviderConfig) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("provider id must not be empty")
	}
	if id == ProviderMock {
		return fmt.Errorf("provider id %q is reserved", id)
	}

	switch p.Style(id) {
	case APIStyleOpenAI, APIStyleAnthropic:
	default:
		return fmt.Errorf("provider %s: api_style %q must be one of %q or %q", id, p.APIStyle, APIStyleOpenAI, APIStyleAnthropic)
	}

	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("provider %s: base_url %q is not an absolute URL", id, p.BaseURL)
		}
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("provider %s: temperature must be between 0 and 2", id)
	}
	if p.MaxTokens != nil && *p.MaxTokens <= 0 {
		return fmt.Errorf("provider %s: max_tokens must be positive", id)
	}

	for headerKey := range p.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", id, headerKey)
		}
	}
	for _, m := range p.Models {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("provider %s: model id must not be empty", id)
		}
	}
	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
