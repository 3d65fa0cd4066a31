package environment

import (
	"errors"
	"fmt"
	"sync"
)

// Registry errors.
var (
	ErrDuplicateID = errors.New("duplicate environment id")
	ErrSealed      = errors.New("registry is sealed")
	ErrUnknownID   = errors.New("unknown environment id")
	ErrInvalidSpec = errors.New("invalid environment")
)

// Registry holds declared environments in registration order. It is filled
// during start-up, sealed, and then only read.
type Registry struct {
	mu     sync.RWMutex
	specs  []Spec
	index  map[string]int
	sealed bool
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Build registers every spec in order and seals the registry.
func Build(specs ...Spec) (*Registry, error) {
	r := NewRegistry()
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// Register validates and appends spec. It fails with ErrDuplicateID if the
// id is already taken.
func (r *Registry) Register(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", spec.ID, ErrSealed)
	}
	if _, ok := r.index[spec.ID]; ok {
		return fmt.Errorf("register %s: %w", spec.ID, ErrDuplicateID)
	}
	r.index[spec.ID] = len(r.specs)
	r.specs = append(r.specs, spec.Clone())
	return nil
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// All returns copies of the registered specs in registration order.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Clone()
	}
	return out
}

// IDs returns the registered ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.ID
	}
	return out
}

// Get returns a copy of the spec with the given id.
func (r *Registry) Get(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return Spec{}, false
	}
	return r.specs[i].Clone(), true
}

// Len returns the number of registered environments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Subset returns a sealed registry restricted to ids, keeping registration
// order rather than the order of ids. An empty ids selects everything.
func (r *Registry) Subset(ids []string) (*Registry, error) {
	if len(ids) == 0 {
		return Build(r.All()...)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.Get(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
		}
		want[id] = true
	}

	var selected []Spec
	for _, s := range r.All() {
		if want[s.ID] {
			selected = append(selected, s)
		}
	}
	return Build(selected...)
}
