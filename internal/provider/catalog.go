package provider

import (
	"fmt"
	"sync"

	"convoforge/internal/models"
)

// Catalog holds a static model list and the currently selected model.
// Adapters embed it to satisfy the model half of the Adapter interface.
type Catalog struct {
	mu       sync.RWMutex
	options  []models.ModelOption
	selected string
}

// NewCatalog builds a catalog from options and selects selected. A selected
// id missing from options is appended as an extra option.
func NewCatalog(options []models.ModelOption, selected string) *Catalog {
	list := make([]models.ModelOption, len(options))
	copy(list, options)

	if selected == "" && len(list) > 0 {
		selected = list[0].ID
	}
	if selected != "" && !containsModel(list, selected) {
		list = append(list, models.ModelOption{ID: selected, Name: selected})
	}

	return &Catalog{options: list, selected: selected}
}

// Models returns a copy of the catalog.
func (c *Catalog) Models() []models.ModelOption {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]models.ModelOption, len(c.options))
	copy(result, c.options)
	return result
}

// SelectedModel returns the selected model id.
func (c *Catalog) SelectedModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// SetModel selects id, which must be in the catalog.
func (c *Catalog) SetModel(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !containsModel(c.options, id) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	c.selected = id
	return nil
}

func containsModel(options []models.ModelOption, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
