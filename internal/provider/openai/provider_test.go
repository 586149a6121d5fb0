package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoforge/internal/config"
	"convoforge/internal/models"
	"convoforge/internal/provider"
)

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New(ID, config.ProviderConfig{
		APIKey:  "test-key",
		Model:   "gpt-4",
		BaseURL: srv.URL,
	}, srv.Client())
	require.NoError(t, err)
	return p
}

func TestCompleteSendsChatPayload(t *testing.T) {
	var (
		gotAuth string
		gotReq  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	resp, err := p.Complete(context.Background(), models.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Temperature:  models.Float(0.2),
		MaxTokens:    models.Int(64),
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4", gotReq["model"])
	assert.Equal(t, false, gotReq["stream"])
	assert.InDelta(t, 0.2, gotReq["temperature"], 1e-9)
	assert.EqualValues(t, 64, gotReq["max_tokens"])

	messages, ok := gotReq["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "be brief"}, messages[0])
	assert.Equal(t, map[string]any{"role": "user", "content": "hello"}, messages[1])

	assert.Equal(t, "Hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-4", resp.Model)
}

func TestCompleteStreamYieldsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"},\"finish_reason\":null}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	s, err := p.CompleteStream(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	var chunks []models.StreamChunk
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	assert.Equal(t, []models.StreamChunk{
		{Content: "Hel"},
		{Content: "lo"},
		{FinishReason: "stop", Done: true},
	}, chunks)
	assert.NoError(t, s.Close())
}

func TestStreamWithoutFinishReasonEndsWithSyntheticDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	s, err := p.CompleteStream(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	resp, err := provider.Collect(s, nil)
	require.NoError(t, err)
	assert.Equal(t, "partial", resp.Content)
	assert.Empty(t, resp.FinishReason)
}

func TestStreamAndCompleteAgree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req["stream"] == true {
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"},\"finish_reason\":null}]}\n\n")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\", world\"},\"finish_reason\":\"stop\"}]}\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4","choices":[{"message":{"role":"assistant","content":"Hello, world"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	req := models.CompletionRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}

	full, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	s, err := p.CompleteStream(context.Background(), req)
	require.NoError(t, err)
	streamed, err := provider.Collect(s, nil)
	require.NoError(t, err)

	assert.Equal(t, full.Content, streamed.Content)
	assert.Equal(t, full.FinishReason, streamed.FinishReason)
}

func TestErrorResponseIsTaggedWithProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Complete(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.Error(t, err)

	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ID, perr.Provider)
	assert.Contains(t, err.Error(), "bad key")

	_, err = p.CompleteStream(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "stream", perr.Op)
}

func TestErrorEventInsideStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"error\":{\"message\":\"overloaded\",\"type\":\"server_error\"}}\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	s, err := p.CompleteStream(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	_, err = provider.Collect(s, nil)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "overloaded")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(ID, config.ProviderConfig{}, http.DefaultClient)
	assert.ErrorIs(t, err, provider.ErrMissingCredentials)
}

func TestCatalogDefaultsAndSelection(t *testing.T) {
	p, err := New(ID, config.ProviderConfig{APIKey: "k"}, http.DefaultClient)
	require.NoError(t, err)

	assert.Equal(t, DisplayName, p.Name())
	assert.Equal(t, "gpt-4-turbo-preview", p.SelectedModel())
	assert.Len(t, p.Models(), 3)

	require.NoError(t, p.SetModel("gpt-3.5-turbo"))
	assert.Equal(t, "gpt-3.5-turbo", p.SelectedModel())
	assert.ErrorIs(t, p.SetModel("nope"), provider.ErrUnknownModel)
}

func TestRequestTimeoutCoversStalledStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	a := provider.WithDefaults(newTestProvider(t, srv), provider.Defaults{Timeout: 100 * time.Millisecond})
	s, err := a.CompleteStream(context.Background(), models.CompletionRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	defer s.Close()

	chunk, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hel", chunk.Content)

	_, err = s.Recv()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var perr *provider.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ID, perr.Provider)
}
