package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"convoforge/internal/config"
	"convoforge/internal/provider"
	anthropicProvider "convoforge/internal/provider/anthropic"
	compatProvider "convoforge/internal/provider/compat"
	mockProvider "convoforge/internal/provider/mock"
	openaiProvider "convoforge/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterFactories installs a factory for every provider id named in cfg.
// Built-in ids get their own adapter; any other id is served by the wire
// adapter its api_style names.
func RegisterFactories(cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	client := newHTTPClient(cfg.RequestTimeout)

	for _, id := range providerIDs(cfg) {
		var build provider.Factory
		switch id {
		case config.ProviderOpenAI:
			build = func(id string, pcfg config.ProviderConfig) (provider.Adapter, error) {
				return openaiProvider.New(id, pcfg, client)
			}
		case config.ProviderAnthropic:
			build = func(id string, pcfg config.ProviderConfig) (provider.Adapter, error) {
				return anthropicProvider.New(id, pcfg, client)
			}
		default:
			build = func(id string, pcfg config.ProviderConfig) (provider.Adapter, error) {
				return compatProvider.New(id, pcfg, client)
			}
		}

		if err := registry.RegisterFactory(id, withDefaults(build, cfg.RequestTimeout)); err != nil {
			return fmt.Errorf("register %s factory: %w", id, err)
		}
	}
	return nil
}

// RegisterConfiguredProviders initializes every configured provider that has
// credentials and selects the active one. When nothing could be initialized
// and cfg.Mock is set, the scripted mock adapter is registered instead.
func RegisterConfiguredProviders(cfg config.Config, registry *provider.Registry) error {
	if err := RegisterFactories(cfg, registry); err != nil {
		return err
	}

	for _, id := range providerIDs(cfg) {
		if _, err := registry.Initialize(id, cfg.Providers[id]); err != nil {
			return err
		}
	}

	if cfg.Mock && len(registry.List()) == 0 {
		slog.Info("no provider credentials found, using mock provider")
		if err := registry.Register(mockProvider.New(cfg.MockDelay)); err != nil {
			return fmt.Errorf("register mock provider: %w", err)
		}
	}

	if cfg.DefaultProvider != "" && registry.Has(cfg.DefaultProvider) {
		if err := registry.SetActive(cfg.DefaultProvider); err != nil {
			return err
		}
	} else if cfg.DefaultProvider != "" {
		slog.Warn("default provider not available", "provider", cfg.DefaultProvider, "active", registry.ActiveID())
	}

	if registry.ActiveID() == "" {
		slog.Warn("no provider initialized; set an api key or enable mock mode")
	}
	return nil
}

// providerIDs returns the configured ids with the built-ins first so that
// registration order is stable.
func providerIDs(cfg config.Config) []string {
	ids := make([]string, 0, len(cfg.Providers))
	for _, id := range []string{config.ProviderOpenAI, config.ProviderAnthropic} {
		if _, ok := cfg.Providers[id]; ok {
			ids = append(ids, id)
		}
	}

	var extra []string
	for id := range cfg.Providers {
		if id != config.ProviderOpenAI && id != config.ProviderAnthropic {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

func withDefaults(build provider.Factory, timeout time.Duration) provider.Factory {
	return func(id string, pcfg config.ProviderConfig) (provider.Adapter, error) {
		adapter, err := build(id, pcfg)
		if err != nil {
			return nil, err
		}
		return provider.WithDefaults(adapter, provider.DefaultsFor(pcfg, timeout)), nil
	}
}

// newHTTPClient has no overall Timeout: the defaults decorator bounds each
// call, including the time spent reading a stream body.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Transport: transport,
	}
}
