package provider

import (
	"context"
	"errors"
	"io"
	"strings"

	"convoforge/internal/config"
	"convoforge/internal/models"
)

// Stream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF after the chunk with Done set has been delivered. Close releases
// the underlying transport and may be called at any point, more than once.
type Stream interface {
	Recv() (models.StreamChunk, error)
	Close() error
}

// Adapter translates the canonical request model to one vendor's protocol.
type Adapter interface {
	ID() string
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
	CompleteStream(ctx context.Context, req models.CompletionRequest) (Stream, error)
	Models() []models.ModelOption
	SelectedModel() string
	SetModel(id string) error
}

// Factory builds an adapter for one provider id from its configuration.
type Factory func(id string, cfg config.ProviderConfig) (Adapter, error)

// Collect drains s, passing every chunk to observe when it is non-nil, and
// returns the concatenated content. The stream is closed on return. Model is
// left empty since streams do not report it.
func Collect(s Stream, observe func(models.StreamChunk)) (*models.CompletionResponse, error) {
	defer s.Close()

	var (
		content strings.Builder
		finish  string
	)
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if observe != nil {
			observe(chunk)
		}
		content.WriteString(chunk.Content)
		if chunk.Done {
			finish = chunk.FinishReason
		}
	}
	return &models.CompletionResponse{Content: content.String(), FinishReason: finish}, nil
}
