package provider

import (
	"context"
	"sync"
	"time"

	"convoforge/internal/config"
	"convoforge/internal/models"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 60 * time.Second
)

// Defaults are the request values and call timeout applied uniformly in
// front of every adapter.
type Defaults struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultsFor derives defaults from a provider config, falling back to the
// package constants for anything unset.
func DefaultsFor(cfg config.ProviderConfig, timeout time.Duration) Defaults {
	d := Defaults{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     timeout,
	}
	if cfg.Temperature != nil {
		d.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens != nil && *cfg.MaxTokens > 0 {
		d.MaxTokens = *cfg.MaxTokens
	}
	return d
}

// Apply fills unset numeric fields of req.
func (d Defaults) Apply(req models.CompletionRequest) models.CompletionRequest {
	if req.Temperature == nil {
		req.Temperature = models.Float(d.Temperature)
	}
	if req.MaxTokens == nil || *req.MaxTokens <= 0 {
		req.MaxTokens = models.Int(d.MaxTokens)
	}
	return req
}

// WithDefaults decorates an adapter so that every call gets default request
// values and an overall timeout covering connection and full stream
// consumption. Expiry aborts the underlying transport.
func WithDefaults(adapter Adapter, d Defaults) Adapter {
	return &defaulted{Adapter: adapter, defaults: d}
}

type defaulted struct {
	Adapter
	defaults Defaults
}

func (a *defaulted) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req.Stream = false
	return a.Adapter.Complete(ctx, a.defaults.Apply(req))
}

func (a *defaulted) CompleteStream(ctx context.Context, req models.CompletionRequest) (Stream, error) {
	ctx, cancel := a.withTimeout(ctx)

	req.Stream = true
	s, err := a.Adapter.CompleteStream(ctx, a.defaults.Apply(req))
	if err != nil {
		cancel()
		return nil, err
	}
	return &timedStream{Stream: s, cancel: cancel}, nil
}

func (a *defaulted) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.defaults.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.defaults.Timeout)
}

// timedStream releases the call deadline once the stream ends or is closed.
type timedStream struct {
	Stream
	cancel context.CancelFunc
	once   sync.Once
}

func (s *timedStream) Recv() (models.StreamChunk, error) {
	chunk, err := s.Stream.Recv()
	if err != nil {
		s.release()
	}
	return chunk, err
}

func (s *timedStream) Close() error {
	err := s.Stream.Close()
	s.release()
	return err
}

func (s *timedStream) release() {
	s.once.Do(s.cancel)
}
