package dataset

import (
	"fmt"
	"sync"
)

// Registry holds the current project's targets in insertion order, along
// with the per-target exception flag.
type Registry struct {
	mu         sync.RWMutex
	targets    map[string]Target
	order      []string
	exceptions map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{targets: map[string]Target{}, exceptions: map[string]bool{}}
}

// Add registers targets. Nothing is added when any id is already taken.
func (r *Registry) Add(ts ...Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, t := range ts {
		if _, ok := r.targets[t.ID()]; ok || seen[t.ID()] {
			return fmt.Errorf("%w: %q", ErrDuplicate, t.ID())
		}
		seen[t.ID()] = true
	}
	for _, t := range ts {
		r.targets[t.ID()] = t
		r.order = append(r.order, t.ID())
	}
	return nil
}

func (r *Registry) Get(id string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return t, nil
}

func (r *Registry) All() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.targets[id])
	}
	return out
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return
	}
	delete(r.targets, id)
	delete(r.exceptions, id)
	for i, n := range r.order {
		if n == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Reset drops every target, e.g. when the project is closed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = map[string]Target{}
	r.exceptions = map[string]bool{}
	r.order = nil
}

// SetException excludes (or re-includes) a target from filtering.
func (r *Registry) SetException(id string, exception bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if exception {
		r.exceptions[id] = true
	} else {
		delete(r.exceptions, id)
	}
	return nil
}

func (r *Registry) HasException(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exceptions[id]
}
