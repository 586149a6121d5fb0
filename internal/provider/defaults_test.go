package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoforge/internal/config"
	"convoforge/internal/models"
	"convoforge/internal/stream"
)

// recordingAdapter captures the request and context it was called with.
type recordingAdapter struct {
	*stubAdapter
	gotReq models.CompletionRequest
	gotCtx context.Context
	body   string
}

func (r *recordingAdapter) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	r.gotReq, r.gotCtx = req, ctx
	return &models.CompletionResponse{Content: "ok"}, nil
}

func (r *recordingAdapter) CompleteStream(ctx context.Context, req models.CompletionRequest) (Stream, error) {
	r.gotReq, r.gotCtx = req, ctx
	return NewEventStream("rec", io.NopCloser(strings.NewReader(r.body)), stream.FramingLines, func(record json.RawMessage) (models.StreamChunk, bool, error) {
		return models.StreamChunk{Content: string(record)}, true, nil
	}), nil
}

func TestDefaultsFor(t *testing.T) {
	d := DefaultsFor(config.ProviderConfig{}, time.Second)
	assert.Equal(t, Defaults{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens, Timeout: time.Second}, d)

	d = DefaultsFor(config.ProviderConfig{Temperature: models.Float(0), MaxTokens: models.Int(2048)}, 0)
	assert.Equal(t, 0.0, d.Temperature)
	assert.Equal(t, 2048, d.MaxTokens)
}

func TestWithDefaultsFillsUnsetValues(t *testing.T) {
	inner := &recordingAdapter{stubAdapter: newStubAdapter("rec")}
	a := WithDefaults(inner, Defaults{Temperature: 0.7, MaxTokens: 1024, Timeout: time.Minute})

	_, err := a.Complete(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)
	require.NotNil(t, inner.gotReq.Temperature)
	require.NotNil(t, inner.gotReq.MaxTokens)
	assert.Equal(t, 0.7, *inner.gotReq.Temperature)
	assert.Equal(t, 1024, *inner.gotReq.MaxTokens)

	_, hasDeadline := inner.gotCtx.Deadline()
	assert.True(t, hasDeadline)

	_, err = a.Complete(context.Background(), models.CompletionRequest{
		Temperature: models.Float(0.1),
		MaxTokens:   models.Int(50),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, *inner.gotReq.Temperature)
	assert.Equal(t, 50, *inner.gotReq.MaxTokens)

	assert.Equal(t, "rec", a.ID())
	assert.Equal(t, "rec-small", a.SelectedModel())
}

func TestWithDefaultsReleasesDeadlineWhenStreamEnds(t *testing.T) {
	inner := &recordingAdapter{stubAdapter: newStubAdapter("rec"), body: "1\n2\n"}
	a := WithDefaults(inner, Defaults{Timeout: time.Minute})

	s, err := a.CompleteStream(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)
	assert.True(t, inner.gotReq.Stream)
	require.NoError(t, inner.gotCtx.Err())

	resp, err := Collect(s, nil)
	require.NoError(t, err)
	assert.Equal(t, "12", resp.Content)
	assert.ErrorIs(t, inner.gotCtx.Err(), context.Canceled)
}

func TestWithDefaultsTimeoutCoversStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	inner := &slowStreamAdapter{stubAdapter: newStubAdapter("slow"), body: pr, feed: pw}
	a := WithDefaults(inner, Defaults{Timeout: 20 * time.Millisecond})

	s, err := a.CompleteStream(context.Background(), models.CompletionRequest{})
	require.NoError(t, err)

	_, err = s.Recv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// slowStreamAdapter fails its body with the context error once ctx ends, as
// an HTTP transport does. Reads of body see the error set on feed.
type slowStreamAdapter struct {
	*stubAdapter
	body *io.PipeReader
	feed *io.PipeWriter
}

func (s *slowStreamAdapter) CompleteStream(ctx context.Context, _ models.CompletionRequest) (Stream, error) {
	go func() {
		<-ctx.Done()
		_ = s.feed.CloseWithError(ctx.Err())
	}()
	return NewEventStream("slow", s.body, stream.FramingLines, func(record json.RawMessage) (models.StreamChunk, bool, error) {
		return models.StreamChunk{Content: string(record)}, true, nil
	}), nil
}
