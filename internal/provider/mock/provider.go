// Package mock provides an offline adapter that replays scripted replies.
// It is selected by configuration when no vendor credentials are present.
package mock

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"convoforge/internal/extract"
	"convoforge/internal/models"
	"convoforge/internal/provider"
)

const (
	// ID is the registry key of the mock adapter.
	ID = "mock"
	// DisplayName is shown to users.
	DisplayName = "Mock"
	// ModelID is the single model the mock adapter offers.
	ModelID = "mock-scripted"
)

const (
	greetingReply = "Hello! I'm here to help you create your app. What kind of app are you looking to build?"
	appReply      = "Great! Could you tell me more about what problem your app is trying to solve?"
	defaultReply  = "I understand. Let's explore that further. What features would be most important for your app?"
)

// Suggestions are returned for suggestion prompts.
var Suggestions = []string{
	"Tell me more about that",
	"What features do you need?",
	"Who are your target users?",
}

var catalog = []models.ModelOption{{
	ID:            ModelID,
	Name:          "Scripted",
	ContextLength: 0,
	Description:   "Offline scripted replies for local development",
	Capabilities:  []string{"Text Generation"},
}}

// Provider answers from a fixed script and streams replies word by word,
// pausing delay between chunks.
type Provider struct {
	*provider.Catalog

	delay time.Duration
}

// New returns a mock adapter. A zero delay streams without pausing.
func New(delay time.Duration) *Provider {
	return &Provider{
		Catalog: provider.NewCatalog(catalog, ModelID),
		delay:   delay,
	}
}

func (p *Provider) ID() string {
	return ID
}

func (p *Provider) Name() string {
	return DisplayName
}

func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, provider.Wrap(ID, "complete", err)
	}
	return &models.CompletionResponse{
		Content:      Reply(lastUserMessage(req.Messages)),
		FinishReason: "stop",
		Model:        p.SelectedModel(),
	}, nil
}

func (p *Provider) CompleteStream(ctx context.Context, req models.CompletionRequest) (provider.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.Wrap(ID, "stream", err)
	}
	return &wordStream{
		ctx:   ctx,
		owner: p,
		words: strings.Split(Reply(lastUserMessage(req.Messages)), " "),
	}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reply picks the scripted answer for a user message. Extraction prompts get
// JSON so the extractors have something to parse offline.
func Reply(text string) string {
	switch {
	case strings.HasPrefix(text, extract.SuggestionsPrompt):
		data, _ := json.Marshal(Suggestions)
		return string(data)
	case strings.HasPrefix(text, extract.DecisionExtractionPrompt):
		return "[]"
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, w := range words {
		if w == "hello" || w == "hi" {
			return greetingReply
		}
	}
	for _, w := range words {
		if w == "app" || w == "apps" {
			return appReply
		}
	}
	return defaultReply
}

func lastUserMessage(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

type wordStream struct {
	ctx   context.Context
	owner *Provider
	words []string
	next  int
	done  bool
}

func (s *wordStream) Recv() (models.StreamChunk, error) {
	if s.done {
		return models.StreamChunk{}, io.EOF
	}
	if err := s.owner.wait(s.ctx); err != nil {
		s.done = true
		return models.StreamChunk{}, provider.Wrap(ID, "stream", err)
	}

	if s.next >= len(s.words) {
		s.done = true
		return models.StreamChunk{FinishReason: "stop", Done: true}, nil
	}

	word := s.words[s.next]
	s.next++
	if s.next < len(s.words) {
		word += " "
	}
	return models.StreamChunk{Content: word}, nil
}

func (s *wordStream) Close() error {
	s.done = true
	return nil
}
