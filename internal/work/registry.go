package work

import (
	"sort"
	"sync"
)

// Registry holds all registered work types and provides lookup by ID and priority ordering.
type Registry struct {
	types   map[string]*WorkType
	ordered []*WorkType // highest priority first
	mu      sync.RWMutex
	reorder bool
}

// NewRegistry creates a new work type registry.
func NewRegistry() *Registry {
	return &Registry{
		types:   make(map[string]*WorkType),
		ordered: make([]*WorkType, 0),
	}
}

// Register adds a work type, replacing one with the same ID.
func (r *Registry) Register(wt *WorkType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types[wt.ID] = wt
	r.reorder = true
}

// Get returns a work type by ID, or nil if not found.
func (r *Registry) Get(id string) *WorkType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.types[id]
}

// Has returns true if a work type with the given ID is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.types[id]
	return exists
}

// ByPriority returns all work types ordered by priority (highest first),
// then by ID. The slice is a copy.
func (r *Registry) ByPriority() []*WorkType {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reorder {
		r.ordered = make([]*WorkType, 0, len(r.types))
		for _, wt := range r.types {
			r.ordered = append(r.ordered, wt)
		}
		sort.Slice(r.ordered, func(i, j int) bool {
			if r.ordered[i].Priority != r.ordered[j].Priority {
				return r.ordered[i].Priority > r.ordered[j].Priority
			}
			return r.ordered[i].ID < r.ordered[j].ID
		})
		r.reorder = false
	}

	result := make([]*WorkType, len(r.ordered))
	copy(result, r.ordered)
	return result
}

// Count returns the number of registered work types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.types)
}

// IDs returns all registered work type IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetDependencies returns the registered work types id depends on.
func (r *Registry) GetDependencies(id string) []*WorkType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wt := r.types[id]
	if wt == nil {
		return nil
	}

	deps := make([]*WorkType, 0, len(wt.DependsOn))
	for _, depID := range wt.DependsOn {
		if dep := r.types[depID]; dep != nil {
			deps = append(deps, dep)
		}
	}
	return deps
}
