// Package extract turns conversation history into follow-up suggestions and
// structured decisions by way of auxiliary completion calls.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"convoforge/internal/models"
)

// Completer issues a single non-streaming completion.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

// DecisionDraft is one decision as reported by the model, before the
// conversation assigns it an identity.
type DecisionDraft struct {
	Title    string `json:"title"`
	Details  string `json:"details"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// Extractor runs the suggestion and decision prompts. Failures of either
// kind degrade to an empty result and never reach the caller.
type Extractor struct {
	completer Completer
}

// New returns an extractor that sends its prompts through completer.
func New(completer Completer) *Extractor {
	return &Extractor{completer: completer}
}

// Suggestions returns short follow-up prompts for the conversation so far.
func (e *Extractor) Suggestions(ctx context.Context, history []models.Message) []string {
	content, ok := e.complete(ctx, "suggestions", BuildPrompt(SuggestionsPrompt, history))
	if !ok {
		return []string{}
	}

	var raw []string
	if err := ParseJSONArray(content, &raw); err != nil {
		slog.Warn("discarding unparseable suggestions", "error", err)
		return []string{}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Decisions returns the decisions the model finds in the conversation. The
// category is passed through as reported; items that do not decode or have
// no title are dropped.
func (e *Extractor) Decisions(ctx context.Context, history []models.Message) []DecisionDraft {
	content, ok := e.complete(ctx, "decisions", BuildPrompt(DecisionExtractionPrompt, history))
	if !ok {
		return []DecisionDraft{}
	}

	var raw []json.RawMessage
	if err := ParseJSONArray(content, &raw); err != nil {
		slog.Warn("discarding unparseable decisions", "error", err)
		return []DecisionDraft{}
	}

	out := make([]DecisionDraft, 0, len(raw))
	for i, item := range raw {
		var d DecisionDraft
		if err := json.Unmarshal(item, &d); err != nil {
			slog.Warn("skipping malformed decision", "index", i, "error", err)
			continue
		}
		d.Title = strings.TrimSpace(d.Title)
		if d.Title == "" {
			continue
		}
		d.Details = strings.TrimSpace(d.Details)
		d.Category = strings.TrimSpace(d.Category)
		d.Status = strings.ToLower(strings.TrimSpace(d.Status))
		out = append(out, d)
	}
	return out
}

func (e *Extractor) complete(ctx context.Context, kind, prompt string) (string, bool) {
	resp, err := e.completer.Complete(ctx, models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		slog.Warn("extraction call failed", "kind", kind, "error", err)
		return "", false
	}
	return resp.Content, true
}
