// Package marker holds descriptive metadata attached to function names.
//
// A Registry is an explicit value owned by the caller, so independent
// monitoring sessions in one process never see each other's markers.
package marker

import (
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

// Category classifies a marked function.
type Category string

// Known marker categories.
const (
	CategoryNetwork Category = "network"
	CategoryRender  Category = "render"
	CategoryCompute Category = "compute"
	CategoryCustom  Category = "custom"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNetwork, CategoryRender, CategoryCompute, CategoryCustom:
		return true
	}
	return false
}

// Marker describes a function for downstream highlighting.
type Marker struct {
	Category    Category `json:"category" yaml:"category"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Color       string   `json:"color,omitempty" yaml:"color,omitempty"`
}

// Registry maps function names to markers. Last write for a name wins and
// entries never expire. Readers observe whatever is current at read time.
type Registry struct {
	mu      sync.RWMutex
	markers map[string]Marker
}

// NewRegistry creates an empty marker registry.
func NewRegistry() *Registry {
	return &Registry{markers: make(map[string]Marker)}
}

// Set registers or replaces the marker for functionName.
// Unknown categories are stored as CategoryCustom.
func (r *Registry) Set(functionName string, m Marker) {
	if !m.Category.Valid() {
		m.Category = CategoryCustom
	}
	r.mu.Lock()
	r.markers[functionName] = m
	r.mu.Unlock()
}

// Remove deletes the marker for functionName, if any.
func (r *Registry) Remove(functionName string) {
	r.mu.Lock()
	delete(r.markers, functionName)
	r.mu.Unlock()
}

// Lookup returns a copy of the marker for functionName.
// A nil registry has no markers.
func (r *Registry) Lookup(functionName string) (*Marker, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	m, ok := r.markers[functionName]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.Color == "" {
		m.Color = DefaultColor(functionName, m.Category)
	}
	return &m, true
}

// Len returns the number of registered markers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markers)
}

// DefaultColor derives a stable hex color for a marker that has none.
// The hue comes from the category, the shade from the function name.
func DefaultColor(functionName string, c Category) string {
	base := map[Category][3]uint8{
		CategoryNetwork: {0x2b, 0x7a, 0xd9},
		CategoryRender:  {0x3c, 0xa5, 0x5c},
		CategoryCompute: {0xe0, 0x8a, 0x1e},
		CategoryCustom:  {0x8e, 0x5c, 0xc9},
	}[c]

	shade := uint8(xxh3.HashString(functionName) % 48)
	return fmt.Sprintf("#%02x%02x%02x", lighten(base[0], shade), lighten(base[1], shade), lighten(base[2], shade))
}

func lighten(v, by uint8) uint8 {
	if int(v)+int(by) > 0xff {
		return 0xff
	}
	return v + by
}
