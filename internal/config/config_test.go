package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoforge/internal/models"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"CONVOFORGE_DEFAULT_PROVIDER",
		"CONVOFORGE_MOCK",
		"CONVOFORGE_PORT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ProviderOpenAI, cfg.DefaultProvider)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.MockDelay)
	assert.False(t, cfg.Providers[ProviderOpenAI].HasCredentials())
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CONVOFORGE_PORT", "9090")
	t.Setenv("CONVOFORGE_MOCK", "true")
	t.Setenv("CONVOFORGE_DEFAULT_PROVIDER", "anthropic")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.Providers[ProviderOpenAI].APIKey)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Mock)
	assert.Equal(t, ProviderAnthropic, cfg.DefaultProvider)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_KEY", "gsk-file")

	path := writeConfig(t, `
server:
  port: 7000
request_timeout: 5s
providers:
  anthropic:
    model: claude-3-haiku-20240307
  groq:
    api_style: openai
    api_key: ${GROQ_KEY}
    base_url: https://api.groq.example/openai
    name: Groq
    models:
      - id: llama3-70b
        name: Llama 3 70B
        context_length: 8192
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)

	anthropic := cfg.Providers[ProviderAnthropic]
	assert.Equal(t, "claude-3-haiku-20240307", anthropic.Model)
	assert.Equal(t, "https://api.anthropic.com", anthropic.BaseURL, "unset fields keep their defaults")

	groq := cfg.Providers["groq"]
	assert.Equal(t, "gsk-file", groq.APIKey)
	assert.Equal(t, APIStyleOpenAI, groq.Style("groq"))
	require.Len(t, groq.Models, 1)
	assert.Equal(t, models.ModelOption{ID: "llama3-70b", Name: "Llama 3 70B", ContextLength: 8192}, groq.Models[0])
}

func TestFileKeyWinsOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, "providers:\n  openai:\n    api_key: sk-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.Providers[ProviderOpenAI].APIKey)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]\n"))
	assert.Error(t, err)

	t.Setenv("CONVOFORGE_MOCK", "sometimes")
	_, err = Load("")
	assert.ErrorContains(t, err, "CONVOFORGE_MOCK")

	t.Setenv("CONVOFORGE_MOCK", "")
	t.Setenv("CONVOFORGE_PORT", "eighty")
	_, err = Load("")
	assert.ErrorContains(t, err, "CONVOFORGE_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "server.port"},
		{name: "timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, want: "request_timeout"},
		{name: "mock delay", mutate: func(c *Config) { c.MockDelay = -time.Second }, want: "mock_delay"},
		{name: "reserved id", mutate: func(c *Config) {
			c.Providers[ProviderMock] = ProviderConfig{APIStyle: APIStyleOpenAI}
		}, want: "reserved"},
		{name: "missing style", mutate: func(c *Config) {
			c.Providers["gateway"] = ProviderConfig{BaseURL: "https://gw.example"}
		}, want: "api_style"},
		{name: "unknown style", mutate: func(c *Config) {
			c.Providers["gateway"] = ProviderConfig{APIStyle: "grpc", BaseURL: "https://gw.example"}
		}, want: "api_style"},
		{name: "relative url", mutate: func(c *Config) {
			p := c.Providers[ProviderOpenAI]
			p.BaseURL = "/v1"
			c.Providers[ProviderOpenAI] = p
		}, want: "base_url"},
		{name: "temperature", mutate: func(c *Config) {
			p := c.Providers[ProviderOpenAI]
			p.Temperature = models.Float(2.5)
			c.Providers[ProviderOpenAI] = p
		}, want: "temperature"},
		{name: "max tokens", mutate: func(c *Config) {
			p := c.Providers[ProviderAnthropic]
			p.MaxTokens = models.Int(0)
			c.Providers[ProviderAnthropic] = p
		}, want: "max_tokens"},
		{name: "header", mutate: func(c *Config) {
			p := c.Providers[ProviderOpenAI]
			p.Headers = map[string]string{"X_Bad": "1"}
			c.Providers[ProviderOpenAI] = p
		}, want: "header"},
		{name: "model id", mutate: func(c *Config) {
			p := c.Providers[ProviderOpenAI]
			p.Models = []models.ModelOption{{Name: "nameless"}}
			c.Providers[ProviderOpenAI] = p
		}, want: "model id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestStyle(t *testing.T) {
	assert.Equal(t, APIStyleOpenAI, ProviderConfig{}.Style(ProviderOpenAI))
	assert.Equal(t, APIStyleAnthropic, ProviderConfig{}.Style(ProviderAnthropic))
	assert.Equal(t, "", ProviderConfig{}.Style("gateway"))
	assert.Equal(t, APIStyleAnthropic, ProviderConfig{APIStyle: " Anthropic "}.Style("gateway"))
}
