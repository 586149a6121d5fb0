package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"convoforge/internal/conversation"
	"convoforge/internal/models"
)

var (
	errEmptyText    = errors.New("text must be provided")
	errEmptyPatch   = errors.New("at least one of status or details is required")
	errInvalidState = errors.New("invalid status")
)

// TurnRequest is the body of a turn submission.
type TurnRequest struct {
	Text string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *TurnRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode turn request: %w", err)
	}

	r.Text = strings.TrimSpace(raw.Text)
	if r.Text == "" {
		return errEmptyText
	}
	return nil
}

// HighlightRequest names the messages to highlight. An empty list clears the
// highlight.
type HighlightRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// DecisionPatch is a partial decision update.
type DecisionPatch struct {
	Status  *conversation.Status
	Details *string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (p *DecisionPatch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  *string `json:"status"`
		Details *string `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode decision patch: %w", err)
	}
	if raw.Status == nil && raw.Details == nil {
		return errEmptyPatch
	}

	if raw.Status != nil {
		status := conversation.Status(strings.ToLower(strings.TrimSpace(*raw.Status)))
		if !status.Valid() {
			return fmt.Errorf("%w %q: must be one of confirmed, pending or conflicting", errInvalidState, *raw.Status)
		}
		p.Status = &status
	}
	p.Details = raw.Details
	return nil
}

// ToUpdate converts the patch to the conversation's update form.
func (p DecisionPatch) ToUpdate() conversation.DecisionUpdate {
	return conversation.DecisionUpdate{Status: p.Status, Details: p.Details}
}

// TurnResponse is the result of a completed turn.
type TurnResponse struct {
	Message     string                  `json:"message"`
	Suggestions []string                `json:"suggestions"`
	Decisions   []conversation.Decision `json:"decisions"`
}

// FromResult converts a turn result to its wire form.
func FromResult(res *conversation.Result) TurnResponse {
	out := TurnResponse{
		Message:     res.Message,
		Suggestions: res.Suggestions,
		Decisions:   res.Decisions,
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	if out.Decisions == nil {
		out.Decisions = []conversation.Decision{}
	}
	return out
}

// ChunkEvent is one streamed fragment relayed to the client.
type ChunkEvent struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	Done         bool   `json:"done"`
}

// FromChunk converts a stream chunk to its wire form.
func FromChunk(c models.StreamChunk) ChunkEvent {
	return ChunkEvent{Content: c.Content, FinishReason: c.FinishReason, Done: c.Done}
}

// ErrorEvent reports a failed turn on an event stream.
type ErrorEvent struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
