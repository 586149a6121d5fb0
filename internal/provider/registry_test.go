package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoforge/internal/config"
	"convoforge/internal/models"
)

type stubAdapter struct {
	*Catalog
	id string
}

func newStubAdapter(id string) *stubAdapter {
	return &stubAdapter{
		Catalog: NewCatalog([]models.ModelOption{{ID: id + "-small"}, {ID: id + "-large"}}, ""),
		id:      id,
	}
}

func (s *stubAdapter) ID() string   { return s.id }
func (s *stubAdapter) Name() string { return "Stub " + s.id }

func (s *stubAdapter) Complete(context.Context, models.CompletionRequest) (*models.CompletionResponse, error) {
	return &models.CompletionResponse{Content: s.id}, nil
}

func (s *stubAdapter) CompleteStream(context.Context, models.CompletionRequest) (Stream, error) {
	return nil, errors.New("not streaming")
}

func stubFactory(id string, cfg config.ProviderConfig) (Adapter, error) {
	if !cfg.HasCredentials() {
		return nil, ErrMissingCredentials
	}
	return newStubAdapter(id), nil
}

func TestInitializeWithoutCredentialsSkips(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory("alpha", stubFactory))

	adapter, err := r.Initialize("alpha", config.ProviderConfig{APIKey: "  "})
	require.NoError(t, err)
	assert.Nil(t, adapter)
	assert.False(t, r.Has("alpha"))
	assert.Empty(t, r.List())

	_, err = r.Active()
	assert.ErrorIs(t, err, ErrNoActiveProvider)
}

func TestInitializeUnknownFactory(t *testing.T) {
	r := NewRegistry()
	_, err := r.Initialize("ghost", config.ProviderConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrNoFactory)
	assert.True(t, IsContractViolation(err))
}

func TestFirstInitializedBecomesActive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFactory("alpha", stubFactory))
	require.NoError(t, r.RegisterFactory("beta", stubFactory))

	_, err := r.Initialize("alpha", config.ProviderConfig{})
	require.NoError(t, err)
	_, err = r.Initialize("beta", config.ProviderConfig{APIKey: "k"})
	require.NoError(t, err)
	_, err = r.Initialize("alpha", config.ProviderConfig{APIKey: "k"})
	require.NoError(t, err)

	active, err := r.Active()
	require.NoError(t, err)
	assert.Equal(t, "beta", active.ID())
	assert.Equal(t, "beta", r.ActiveID())

	var ids []string
	for _, a := range r.List() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"beta", "alpha"}, ids)
}

func TestSetActiveAndGetRejectUnknownIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStubAdapter("alpha")))

	err := r.SetActive("missing")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.True(t, IsContractViolation(err))
	assert.Equal(t, "alpha", r.ActiveID())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, r.Register(newStubAdapter("beta")))
	require.NoError(t, r.SetActive("beta"))
	active, err := r.Active()
	require.NoError(t, err)
	assert.Equal(t, "beta", active.ID())
}

func TestModelPassThroughs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newStubAdapter("alpha")))

	list, err := r.ListModels("alpha")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	selected, err := r.SelectedModel("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha-small", selected)

	require.NoError(t, r.SetModel("alpha", "alpha-large"))
	selected, _ = r.SelectedModel("alpha")
	assert.Equal(t, "alpha-large", selected)

	assert.ErrorIs(t, r.SetModel("alpha", "gpt-4"), ErrUnknownModel)
	assert.ErrorIs(t, r.SetModel("beta", "x"), ErrNotInitialized)

	_, err = r.ListModels("beta")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestCatalogKeepsConfiguredModelSelectable(t *testing.T) {
	c := NewCatalog([]models.ModelOption{{ID: "a"}}, "custom")
	assert.Equal(t, "custom", c.SelectedModel())
	assert.Len(t, c.Models(), 2)

	list := c.Models()
	list[0].ID = "mutated"
	assert.Equal(t, "a", c.Models()[0].ID)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("p", "op", nil))

	base := errors.New("refused")
	err := Wrap("p", "stream", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "p stream: refused", err.Error())

	assert.Same(t, err, Wrap("q", "complete", err))
}
