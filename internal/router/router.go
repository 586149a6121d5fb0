package router

import (
	"context"
	"fmt"
	"log/slog"

	"convoforge/internal/models"
	"convoforge/internal/provider"
)

// Router dispatches canonical requests to whichever provider is active at
// the time of the call.
type Router struct {
	registry *provider.Registry
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry) *Router {
	return &Router{
		registry: registry,
	}
}

// Complete routes a non-streaming completion to the active provider.
func (r *Router) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	adapter, err := r.registry.Active()
	if err != nil {
		return nil, err
	}

	sanitisedReq := req
	sanitisedReq.Messages = cloneMessages(req.Messages)
	sanitisedReq.Stream = false

	slog.Debug("completion request", "provider", adapter.ID(), "model", adapter.SelectedModel(), "messages", len(req.Messages))
	resp, err := adapter.Complete(ctx, sanitisedReq)
	if err != nil {
		slog.Debug("completion failed", "provider", adapter.ID(), "error", err)
		return nil, fmt.Errorf("provider %s completion request: %w", adapter.Name(), err)
	}
	return resp, nil
}

// CompleteStream opens a stream on the active provider.
func (r *Router) CompleteStream(ctx context.Context, req models.CompletionRequest) (provider.Stream, error) {
	adapter, err := r.registry.Active()
	if err != nil {
		return nil, err
	}

	sanitisedReq := req
	sanitisedReq.Messages = cloneMessages(req.Messages)
	sanitisedReq.Stream = true

	slog.Debug("stream request", "provider", adapter.ID(), "model", adapter.SelectedModel(), "messages", len(req.Messages))
	s, err := adapter.CompleteStream(ctx, sanitisedReq)
	if err != nil {
		slog.Debug("stream failed", "provider", adapter.ID(), "error", err)
		return nil, fmt.Errorf("provider %s stream request: %w", adapter.Name(), err)
	}
	return s, nil
}

// ActiveProvider returns the id of the provider that would serve the next call.
func (r *Router) ActiveProvider() string {
	return r.registry.ActiveID()
}

func cloneMessages(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]models.Message, len(messages))
	copy(out, messages)
	return out
}
