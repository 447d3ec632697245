package services

import (
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Binding ties an index descriptor to the collaborators that feed it: the
// data source supplying changed records and the composer producing
// payloads. Bindings are explicit and resolved at configuration time -
// the engine never probes objects to guess where they came from.
type Binding struct {
	Index    *domain.Index
	Source   driven.DataSource
	Composer driven.Composer
}

// Registry holds the closed set of index bindings, keyed by index name.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*Binding)}
}

// Register adds a binding. Registering twice under the same name or with
// missing collaborators is a configuration error.
func (r *Registry) Register(b *Binding) error {
	if b == nil || b.Index == nil || b.Index.Name == "" {
		return fmt.Errorf("%w: binding needs a named index", domain.ErrInvalidConfig)
	}
	if b.Source == nil || b.Composer == nil {
		return fmt.Errorf("%w: binding for %q needs a source and a composer", domain.ErrInvalidConfig, b.Index.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bindings[b.Index.Name]; exists {
		return fmt.Errorf("%w: index %q already registered", domain.ErrInvalidConfig, b.Index.Name)
	}
	r.bindings[b.Index.Name] = b
	r.order = append(r.order, b.Index.Name)
	return nil
}

// Get looks up a binding by index name.
func (r *Registry) Get(name string) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownIndex, name)
	}
	return b, nil
}

// Names returns the registered index names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
