package openai

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
	// ID is the registry key of the OpenAI adapter.
	ID = "openai"
	// DisplayName is shown to users when no name is configured.
	DisplayName = "OpenAI"
	// DefaultBaseURL is used when the config leaves base_url empty.
	DefaultBaseURL = "https://api.openai.com"

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
	userAgent       = "convoforge/0.1"
	chatPath        = "/v1/chat/completions"
)

// Models is the built-in OpenAI catalog.
var Models = []models.ModelOption{
	{
		ID:            "gpt-4-turbo-preview",
		Name:          "GPT-4 Turbo",
		ContextLength: 128000,
		Description:   "Most capable GPT-4 model with broader general knowledge and improved instruction following",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Reasoning", "Code Generation"},
	},
	{
		ID:            "gpt-4",
		Name:          "GPT-4",
		ContextLength: 8192,
		Description:   "Powerful model for various tasks with strong reasoning and instruction following",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Reasoning", "Code Generation"},
	},
	{
		ID:            "gpt-3.5-turbo",
		Name:          "GPT-3.5 Turbo",
		ContextLength: 4096,
		Description:   "Fast, cost-effective model with good general capabilities",
		Capabilities:  []string{"Text Generation", "Creative Writing", "Summarization"},
	},
}

// Provider speaks the OpenAI chat completions protocol. Any vendor exposing
// the same wire format can be reached by pointing base_url at it.
type Provider struct {
	*provider.Catalog

	id      string
	name    string
	apiKey  string
	headers map[string]string
	client  *http.Client
	chatURL string
}

// New creates an OpenAI-style adapter registered under id.
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
		Catalog: provider.NewCatalog(catalog, cfg.Model),
		id:      id,
		name:    name,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		client:  client,
		chatURL: baseURL + chatPath,
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

	var resp chatResponse
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
	return provider.NewEventStream(p.id, httpResp.Body, stream.FramingSSE, parseStreamChunk), nil
}

// do sends the request and returns the response only when the status is
// successful. The caller owns the body.
func (p *Provider) do(ctx context.Context, req models.CompletionRequest, streaming bool) (*http.Response, error) {
	payload, err := buildChatPayload(p.SelectedModel(), req, streaming)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, payload, streaming)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}
	return httpResp, nil
}

func (p *Provider) newRequest(ctx context.Context, payload any, streaming bool) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	if streaming {
		req.Header.Set("Accept", contentTypeSSE)
	} else {
		req.Header.Set("Accept", contentTypeJSON)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildChatPayload places the system prompt inline as the leading message.
func buildChatPayload(model string, req models.CompletionRequest, streaming bool) (chatPayload, error) {
	if model == "" {
		return chatPayload{}, errors.New("no model selected")
	}

	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: string(models.RoleSystem), Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		if !msg.Role.Valid() {
			return chatPayload{}, fmt.Errorf("invalid message role %q", msg.Role)
		}
		messages = append(messages, openAIMessage{Role: string(msg.Role), Content: msg.Content})
	}

	return chatPayload{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      streaming,
	}, nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

func (r chatResponse) toCompletion() (*models.CompletionResponse, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("response did not include choices")
	}

	choice := r.Choices[0]
	return &models.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        r.Model,
	}, nil
}

type streamChunk struct {
	Choices []streamChoice  `json:"choices"`
	Error   *apiErrorObject `json:"error,omitempty"`
}

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// parseStreamChunk marks a chunk done as soon as it carries a finish reason.
// Role-only and usage records are not emitted.
func parseStreamChunk(record json.RawMessage) (models.StreamChunk, bool, error) {
	var chunk streamChunk
	if err := json.Unmarshal(record, &chunk); err != nil {
		return models.StreamChunk{}, false, fmt.Errorf("decode stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return models.StreamChunk{}, false, chunk.Error.err()
	}
	if len(chunk.Choices) == 0 {
		return models.StreamChunk{}, false, nil
	}

	choice := chunk.Choices[0]
	out := models.StreamChunk{Content: choice.Delta.Content}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out.FinishReason = *choice.FinishReason
		out.Done = true
	}
	return out, out.Content != "" || out.Done, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (e apiErrorObject) err() error {
	if e.Type == "" {
		return fmt.Errorf("api error: %s", e.Message)
	}
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
