// Package conversation owns the message history of one conversation and
// drives each user turn through streaming and extraction.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"convoforge/internal/extract"
	"convoforge/internal/models"
	"convoforge/internal/provider"
)

// ErrTurnFailed wraps the cause of a turn that produced no assistant reply.
var ErrTurnFailed = errors.New("turn failed")

// ErrEmptyMessage indicates a turn was sent without text.
var ErrEmptyMessage = errors.New("message must not be empty")

// ErrDecisionNotFound indicates no decision has the given id.
var ErrDecisionNotFound = errors.New("decision not found")

// ErrInvalidStatus indicates an update named an unknown decision status.
var ErrInvalidStatus = errors.New("invalid decision status")

// WelcomeMessage opens every fresh conversation.
const WelcomeMessage = "Welcome! How can I help you create your app today?"

// StarterSuggestions are offered before the first turn.
var StarterSuggestions = []string{
	"I want to build a social media app",
	"Create an app for managing tasks",
	"I need a delivery tracking app",
}

// State is the turn lifecycle state.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateExtracting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateExtracting:
		return "extracting"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Kind separates provider-visible messages from entries that only the UI
// shows.
type Kind string

const (
	KindMessage Kind = "message"
	KindWelcome Kind = "welcome"
	KindError   Kind = "error"
)

// Entry is one item of the visible transcript. Only KindMessage entries are
// sent to providers.
type Entry struct {
	ID        string      `json:"id"`
	Role      models.Role `json:"role"`
	Content   string      `json:"content"`
	Kind      Kind        `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// Result is the outcome of one successful turn. Decisions holds the
// decisions this turn created or updated.
type Result struct {
	Message     string     `json:"message"`
	Suggestions []string   `json:"suggestions"`
	Decisions   []Decision `json:"decisions"`
}

// Snapshot is a consistent copy of the conversation state.
type Snapshot struct {
	Messages    []Entry    `json:"messages"`
	Suggestions []string   `json:"suggestions"`
	Decisions   []Decision `json:"decisions"`
	Groups      []Group    `json:"groups"`
	Highlighted []string   `json:"highlighted"`
	State       string     `json:"state"`
}

// Client is the completion surface the orchestrator needs, normally a
// router that resolves the active provider per call.
type Client interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
	CompleteStream(ctx context.Context, req models.CompletionRequest) (provider.Stream, error)
}

// Orchestrator runs turns one at a time. A SendTurn issued while another is
// in flight waits for it to finish.
type Orchestrator struct {
	client    Client
	extractor *extract.Extractor
	turn      chan struct{}

	mu          sync.RWMutex
	state       State
	entries     []Entry
	suggestions []string
	decisions   []Decision
	highlighted []string
}

// New returns an orchestrator in the welcome state.
func New(client Client) *Orchestrator {
	o := &Orchestrator{
		client:    client,
		extractor: extract.New(client),
		turn:      make(chan struct{}, 1),
	}
	o.resetLocked()
	return o
}

// SendTurn appends text as a user message, streams the reply from the
// active provider and runs the suggestion and decision extractors. onChunk,
// when non-nil, sees every chunk as it arrives.
//
// On a stream failure the partial reply is discarded, an error entry is
// added to the transcript and the error is returned wrapped in
// ErrTurnFailed. The conversation is Idle again either way.
func (o *Orchestrator) SendTurn(ctx context.Context, text string, onChunk func(models.StreamChunk)) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if err := o.acquire(ctx); err != nil {
		return nil, err
	}
	defer o.release()

	o.mu.Lock()
	user := o.appendLocked(models.RoleUser, text, KindMessage)
	o.setStateLocked(StateSending)
	history := o.historyLocked()
	o.mu.Unlock()

	s, err := o.client.CompleteStream(ctx, models.CompletionRequest{
		Messages:     history,
		SystemPrompt: extract.MainPrompt,
		Stream:       true,
	})
	if err != nil {
		return nil, o.fail(err)
	}

	o.setState(StateStreaming)
	resp, err := provider.Collect(s, onChunk)
	if err != nil {
		return nil, o.fail(err)
	}

	o.mu.Lock()
	assistant := o.appendLocked(models.RoleAssistant, resp.Content, KindMessage)
	o.setStateLocked(StateExtracting)
	history = o.historyLocked()
	o.mu.Unlock()

	suggestions := o.extractor.Suggestions(ctx, history)
	drafts := o.extractor.Decisions(ctx, history)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.suggestions = suggestions
	decisions := o.mergeLocked(drafts, []string{user.ID, assistant.ID})
	o.setStateLocked(StateIdle)

	return &Result{
		Message:     resp.Content,
		Suggestions: append([]string{}, suggestions...),
		Decisions:   decisions,
	}, nil
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	select {
	case o.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release() {
	<-o.turn
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.setStateLocked(StateError)
	slog.Warn("turn failed", "error", err)
	o.appendLocked(models.RoleSystem, "Something went wrong: "+err.Error(), KindError)
	o.setStateLocked(StateIdle)

	return fmt.Errorf("%w: %w", ErrTurnFailed, err)
}

func (o *Orchestrator) appendLocked(role models.Role, content string, kind Kind) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	o.entries = append(o.entries, e)
	return e
}

// historyLocked returns the provider context: user and assistant messages
// in order, without UI-only entries.
func (o *Orchestrator) historyLocked() []models.Message {
	out := make([]models.Message, 0, len(o.entries))
	for _, e := range o.entries {
		if e.Kind == KindMessage {
			out = append(out, models.Message{Role: e.Role, Content: e.Content})
		}
	}
	return out
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStateLocked(s)
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.state != s {
		slog.Debug("conversation state", "from", o.state.String(), "to", s.String())
	}
	o.state = s
}

// mergeLocked folds extracted drafts into the decision list. A draft whose
// title and category match an existing decision updates it in place.
func (o *Orchestrator) mergeLocked(drafts []extract.DecisionDraft, related []string) []Decision {
	touched := make([]Decision, 0, len(drafts))
	for _, d := range drafts {
		key := decisionKey(d.Title, d.Category)

		idx := -1
		for i := range o.decisions {
			if decisionKey(o.decisions[i].Title, o.decisions[i].Category) == key {
				idx = i
				break
			}
		}

		if idx >= 0 {
			existing := &o.decisions[idx]
			if d.Details != "" {
				existing.Details = d.Details
			}
			if d.Status != "" {
				existing.Status = ParseStatus(d.Status)
			}
			existing.RelatedMessageIDs = mergeIDs(existing.RelatedMessageIDs, related)
			touched = append(touched, existing.clone())
			continue
		}

		decision := Decision{
			ID:                uuid.NewString(),
			Title:             d.Title,
			Details:           d.Details,
			Status:            ParseStatus(d.Status),
			Category:          d.Category,
			RelatedMessageIDs: append([]string(nil), related...),
		}
		o.decisions = append(o.decisions, decision)
		touched = append(touched, decision.clone())
	}
	return touched
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Messages returns the visible transcript.
func (o *Orchestrator) Messages() []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Entry{}, o.entries...)
}

// Suggestions returns the latest follow-up suggestions.
func (o *Orchestrator) Suggestions() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string{}, o.suggestions...)
}

// Decisions returns all recorded decisions in creation order.
func (o *Orchestrator) Decisions() []Decision {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.decisionsLocked()
}

func (o *Orchestrator) decisionsLocked() []Decision {
	out := make([]Decision, 0, len(o.decisions))
	for _, d := range o.decisions {
		out = append(out, d.clone())
	}
	return out
}

// DecisionsByCategory groups decisions into the fixed display buckets.
func (o *Orchestrator) DecisionsByCategory() []Group {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return groupDecisions(o.decisions)
}

// UpdateDecision applies a user edit to decision id.
func (o *Orchestrator) UpdateDecision(id string, update DecisionUpdate) (Decision, error) {
	if update.Status != nil && !update.Status.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *update.Status)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.decisions {
		if o.decisions[i].ID != id {
			continue
		}
		if update.Status != nil {
			o.decisions[i].Status = *update.Status
		}
		if update.Details != nil {
			o.decisions[i].Details = *update.Details
		}
		return o.decisions[i].clone(), nil
	}
	return Decision{}, fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
}

// RemoveDecision deletes decision id.
func (o *Orchestrator) RemoveDecision(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.decisions {
		if o.decisions[i].ID == id {
			o.decisions = append(o.decisions[:i], o.decisions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDecisionNotFound, id)
}

// HighlightMessages replaces the highlighted set with ids. Ids that name no
// transcript entry are dropped.
func (o *Orchestrator) HighlightMessages(ids []string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	known := make(map[string]struct{}, len(o.entries))
	for _, e := range o.entries {
		known[e.ID] = struct{}{}
	}

	highlighted := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		highlighted = append(highlighted, id)
	}
	o.highlighted = highlighted
	return append([]string{}, highlighted...)
}

// ClearHighlights empties the highlighted set.
func (o *Orchestrator) ClearHighlights() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.highlighted = []string{}
}

// Highlighted returns the highlighted message ids.
func (o *Orchestrator) Highlighted() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string{}, o.highlighted...)
}

// Reset waits for any turn in flight, then restores the welcome state.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.acquire(ctx); err != nil {
		return err
	}
	defer o.release()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
	return nil
}

func (o *Orchestrator) resetLocked() {
	o.entries = nil
	o.decisions = nil
	o.highlighted = []string{}
	o.suggestions = append([]string{}, StarterSuggestions...)
	o.appendLocked(models.RoleSystem, WelcomeMessage, KindWelcome)
	o.state = StateIdle
}

// Snapshot returns a consistent copy of the whole conversation.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return Snapshot{
		Messages:    append([]Entry{}, o.entries...),
		Suggestions: append([]string{}, o.suggestions...),
		Decisions:   o.decisionsLocked(),
		Groups:      groupDecisions(o.decisions),
		Highlighted: append([]string{}, o.highlighted...),
		State:       o.state.String(),
	}
}
