package emotions

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the preset table.
type Registry struct {
	mu      sync.RWMutex
	presets map[Tag]*Preset
}

// NewRegistry creates an empty registry. Neutral is always present.
func NewRegistry() *Registry {
	r := &Registry{presets: make(map[Tag]*Preset)}
	r.presets[Neutral] = &Preset{Name: Neutral.String(), Weights: map[string]float64{}}
	return r
}

// NewDefaultRegistry creates a registry with the built-in presets loaded.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadBuiltIn(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadBuiltIn loads all embedded presets into the registry.
func (r *Registry) LoadBuiltIn() error {
	presets, err := LoadEmbedded()
	if err != nil {
		return fmt.Errorf("failed to load embedded presets: %w", err)
	}
	for _, p := range presets {
		r.Register(p)
	}
	return nil
}

// LoadFile layers presets from a YAML file over the current table.
func (r *Registry) LoadFile(path string) error {
	presets, err := LoadFromFile(path)
	if err != nil {
		return err
	}
	for _, p := range presets {
		r.Register(p)
	}
	return nil
}

// Register adds or replaces a preset. The preset name must parse as a Tag.
func (r *Registry) Register(p *Preset) {
	tag, ok := ParseTag(p.Name)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[tag] = p
}

// Get retrieves a preset by tag.
func (r *Registry) Get(tag Tag) (*Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.presets[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tag)
	}
	return p, nil
}

// Weights returns the preset for tag scaled by intensity.
// Unknown tags yield an empty map, which blends every channel to zero.
func (r *Registry) Weights(tag Tag, intensity float64) map[string]float64 {
	p, err := r.Get(tag)
	if err != nil {
		return map[string]float64{}
	}
	return p.Scaled(intensity)
}

// List returns all registered preset names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.presets))
	for _, p := range r.presets {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ListWithDescriptions returns all presets with their descriptions.
func (r *Registry) ListWithDescriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]string, len(r.presets))
	for _, p := range r.presets {
		result[p.Name] = p.Description
	}
	return result
}

// Count returns the number of registered presets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presets)
}
