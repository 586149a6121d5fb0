package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"convoforge/internal/config"
	"convoforge/internal/models"
	"convoforge/internal/provider"
	"convoforge/internal/stream"
)

const (
	// ID is the registry key of the Anthropic adapter.
	ID = "anthropic"
	// DisplayName is shown to users when no name is configured.
	DisplayName = "Anthropic"
	// DefaultBaseURL is used when the config leaves base_url empty.
	DefaultBaseURL = "https://api.anthropic.com"

	contentTypeJSON = "application/json"
	userAgent       = "convoforge/0.1"
	apiVersion      = "2023-06-01"
	messagesPath    = "/v1/messages"
)

// Models is the built-in Anthropic catalog.
var Models = []models.ModelOption{
	{
		ID:            "claude-3-opus-20240229",
		Name:          "Claude 3 Opus",
		ContextLength: 200000,
		Description:   "Most powerful Claude model with exceptional intelligence and reasoning",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Advanced Reasoning", "Code Generation"},
	},
	{
		ID:            "claude-3-5-sonnet-20241022",
		Name:          "Claude 3.5 Sonnet",
		ContextLength: 200000,
		Description:   "Latest Claude model with enhanced reasoning and efficiency",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Advanced Reasoning", "Code Generation"},
	},
	{
		ID:            "claude-3-7-sonnet-20250219",
		Name:          "Claude 3.7 Sonnet",
		ContextLength: 200000,
		Description:   "Balanced model offering strong performance and efficiency",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Reasoning", "Code Generation"},
	},
	{
		ID:            "claude-3-haiku-20240307",
		Name:          "Claude 3 Haiku",
		ContextLength: 150000,
		Description:   "Fastest Claude model designed for efficiency and quick responses",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Basic Reasoning"},
	},
}

// Provider implements the Anthropic Messages API.
type Provider struct {
	*provider.Catalog

	id       string
	name     string
	apiKey   string
	headers  map[string]string
	client   *http.Client
	messages string
}

// New constructs an Anthropic-style adapter registered under id.
func New(id string, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if !cfg.HasCredentials() {
		return nil, provider.ErrMissingCredentials
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	name := cfg.Name
	if name == "" {
		name = DisplayName
	}

	catalog := Models
	if len(cfg.Models) > 0 {
		catalog = cfg.Models
	}

	return &Provider{
		Catalog:  provider.NewCatalog(catalog, cfg.Model),
		id:       id,
		name:     name,
		apiKey:   cfg.APIKey,
		headers:  cfg.Headers,
		client:   client,
		messages: baseURL + messagesPath,
	}, nil
}

func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	httpResp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, provider.Wrap(p.id, "complete", err)
	}
	defer httpResp.Body.Close()

	var resp messageResponse
	if err := decodeJSON(httpResp.Body, &resp); err != nil {
		return nil, provider.Wrap(p.id, "complete", err)
	}

	out, err := resp.toCompletion()
	if err != nil {
		return nil, provider.Wrap(p.id, "complete", err)
	}
	return out, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req models.CompletionRequest) (provider.Stream, error) {
	httpResp, err := p.do(ctx, req, true)
	if err != nil {
		return nil, provider.Wrap(p.id, "stream", err)
	}
	return provider.NewEventStream(p.id, httpResp.Body, stream.FramingLines, newEventParser()), nil
}

func (p *Provider) do(ctx context.Context, req models.CompletionRequest, streaming bool) (*http.Response, error) {
	payload, err := buildMessagePayload(p.SelectedModel(), req, streaming)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messages request failed: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}
	return httpResp, nil
}

func (p *Provider) newRequest(ctx context.Context, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.messages, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type messagePayload struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// buildMessagePayload moves system-role messages out of the list and into
// the top-level system field, after the request's own system prompt.
func buildMessagePayload(model string, req models.CompletionRequest, streaming bool) (messagePayload, error) {
	if model == "" {
		return messagePayload{}, errors.New("no model selected")
	}

	var systemParts []string
	if strings.TrimSpace(req.SystemPrompt) != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	messages := make([]message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.RoleSystem:
			if strings.TrimSpace(msg.Content) != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case models.RoleUser, models.RoleAssistant:
			messages = append(messages, message{Role: string(msg.Role), Content: msg.Content})
		default:
			return messagePayload{}, fmt.Errorf("unsupported role %q", msg.Role)
		}
	}
	if len(messages) == 0 {
		return messagePayload{}, errors.New("request requires at least one user message")
	}

	maxTokens := provider.DefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	return messagePayload{
		Model:       model,
		Messages:    messages,
		System:      strings.Join(systemParts, "\n\n"),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      streaming,
	}, nil
}

type messageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

func (r messageResponse) toCompletion() (*models.CompletionResponse, error) {
	if len(r.Content) == 0 {
		return nil, errors.New("response missing content blocks")
	}

	var text strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &models.CompletionResponse{
		Content:      text.String(),
		FinishReason: r.StopReason,
		Model:        r.Model,
	}, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	StopReason string    `json:"stop_reason"`
	Error      *apiError `json:"error,omitempty"`
}

// newEventParser returns a parser for one stream. The stop reason usually
// arrives in message_delta and is reported on the following message_stop.
func newEventParser() provider.ParseFunc {
	var stopReason string

	return func(record json.RawMessage) (models.StreamChunk, bool, error) {
		var event streamEvent
		if err := json.Unmarshal(record, &event); err != nil {
			return models.StreamChunk{}, false, fmt.Errorf("decode stream event: %w", err)
		}

		switch event.Type {
		case "content_block_delta":
			return models.StreamChunk{Content: event.Delta.Text}, event.Delta.Text != "", nil
		case "message_delta":
			if event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			return models.StreamChunk{}, false, nil
		case "message_stop":
			reason := event.StopReason
			if reason == "" {
				reason = stopReason
			}
			return models.StreamChunk{FinishReason: reason, Done: true}, true, nil
		case "error":
			if event.Error != nil {
				return models.StreamChunk{}, false, event.Error.err()
			}
			return models.StreamChunk{}, false, errors.New("stream error event")
		default:
			// message_start, content_block_start/stop and ping.
			return models.StreamChunk{}, false, nil
		}
	}
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e apiError) err() error {
	return fmt.Errorf("api error (%s): %s", e.Type, e.Message)
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("status %d: %w", resp.StatusCode, apiErr.Error.err())
	}

	return fmt.Errorf("upstream error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
