package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"convoforge/internal/config"
	"convoforge/internal/models"
)

// Registry holds initialized adapters keyed by provider id and tracks which
// one is active. The active id, when set, always names a registered adapter.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	adapters  map[string]Adapter
	order     []string
	active    string
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// RegisterFactory makes a factory available for Initialize under id.
func (r *Registry) RegisterFactory(id string, factory Factory) error {
	if id == "" {
		return errors.New("factory id must not be empty")
	}
	if factory == nil {
		return errors.New("factory must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	return nil
}

// Initialize builds the adapter for id from cfg and registers it. A config
// without credentials is skipped silently: the result is nil with no error.
// The first adapter registered becomes active.
func (r *Registry) Initialize(id string, cfg config.ProviderConfig) (Adapter, error) {
	if !cfg.HasCredentials() {
		slog.Warn("skipping provider without api key", "provider", id)
		return nil, nil
	}

	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, id)
	}

	adapter, err := factory(id, cfg)
	if errors.Is(err, ErrMissingCredentials) {
		slog.Warn("skipping provider without api key", "provider", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("initialize provider %q: %w", id, err)
	}

	if err := r.Register(adapter); err != nil {
		return nil, err
	}
	slog.Info("provider initialized", "provider", id, "model", adapter.SelectedModel())
	return adapter, nil
}

// Register adds an already constructed adapter, replacing any adapter with
// the same id.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter must not be nil")
	}
	id := adapter.ID()
	if id == "" {
		return errors.New("adapter id must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[id]; !exists {
		r.order = append(r.order, id)
	}
	r.adapters[id] = adapter
	if r.active == "" {
		r.active = id
	}
	return nil
}

// SetActive makes id the active provider.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotInitialized, id)
	}
	r.active = id
	return nil
}

// Active returns the active adapter.
func (r *Registry) Active() (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil, ErrNoActiveProvider
	}
	return r.adapters[r.active], nil
}

// ActiveID returns the active provider id, or "" when none is active.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, id)
	}
	return adapter, nil
}

// List returns all registered adapters in registration order.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// Has reports whether id was successfully initialized.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[id]
	return ok
}

// ListModels returns the model catalog of provider id.
func (r *Registry) ListModels(id string) ([]models.ModelOption, error) {
	adapter, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return adapter.Models(), nil
}

// SelectedModel returns the selected model of provider id.
func (r *Registry) SelectedModel(id string) (string, error) {
	adapter, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return adapter.SelectedModel(), nil
}

// SetModel selects model on provider id.
func (r *Registry) SetModel(id, model string) error {
	adapter, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := adapter.SetModel(model); err != nil {
		return fmt.Errorf("provider %s: %w", id, err)
	}
	return nil
}
