// Package compat serves extra provider ids that speak one of the two
// supported wire styles, such as gateways or self-hosted endpoints.
package compat

import (
	"errors"
	"fmt"
	"net/http"

	"convoforge/internal/config"
	"convoforge/internal/provider"
	anthropicProvider "convoforge/internal/provider/anthropic"
	openaiProvider "convoforge/internal/provider/openai"
)

// New builds the wire adapter matching cfg's api_style, registered under id.
// Compatible endpoints must name their base_url since the vendor defaults
// would point at the wrong host.
func New(id string, cfg config.ProviderConfig, client *http.Client) (provider.Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if cfg.Name == "" {
		cfg.Name = id
	}

	switch style := cfg.Style(id); style {
	case config.APIStyleOpenAI:
		adapter, err := openaiProvider.New(id, cfg, client)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case config.APIStyleAnthropic:
		adapter, err := anthropicProvider.New(id, cfg, client)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("provider %s: unsupported api_style %q", id, style)
	}
}
