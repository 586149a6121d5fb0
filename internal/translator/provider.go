package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"convoforge/internal/models"
	"convoforge/internal/provider"
)

var (
	errEmptyProvider = errors.New("provider id must be provided")
	errEmptyModel    = errors.New("model must be provided")
)

// ProviderView describes one initialized provider.
type ProviderView struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Active        bool                 `json:"active"`
	SelectedModel string               `json:"selected_model"`
	Models        []models.ModelOption `json:"models"`
}

// ProviderList is the response of the provider listing.
type ProviderList struct {
	Active    string         `json:"active"`
	Providers []ProviderView `json:"providers"`
}

// FromAdapters describes adapters, marking activeID as active.
func FromAdapters(adapters []provider.Adapter, activeID string) ProviderList {
	out := ProviderList{Active: activeID, Providers: make([]ProviderView, 0, len(adapters))}
	for _, a := range adapters {
		out.Providers = append(out.Providers, FromAdapter(a, activeID))
	}
	return out
}

// FromAdapter describes a single adapter.
func FromAdapter(a provider.Adapter, activeID string) ProviderView {
	return ProviderView{
		ID:            a.ID(),
		Name:          a.Name(),
		Active:        a.ID() == activeID,
		SelectedModel: a.SelectedModel(),
		Models:        a.Models(),
	}
}

// ActiveProviderRequest selects the active provider.
type ActiveProviderRequest struct {
	ID string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ActiveProviderRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode provider request: %w", err)
	}
	r.ID = strings.TrimSpace(raw.ID)
	if r.ID == "" {
		return errEmptyProvider
	}
	return nil
}

// ModelRequest selects a model on a provider.
type ModelRequest struct {
	Model string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ModelRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode model request: %w", err)
	}
	r.Model = strings.TrimSpace(raw.Model)
	if r.Model == "" {
		return errEmptyModel
	}
	return nil
}
