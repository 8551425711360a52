package action

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry maps action types to implementations. It is written at startup
// and read concurrently by every run afterwards.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a registry holding the given actions.
func NewRegistry(actions ...Action) *Registry {
	r := &Registry{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		r.actions[a.Type()] = a
	}
	return r
}

// Register adds an action. Registering a type twice is an error.
func (r *Registry) Register(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.Type()]; ok {
		return fmt.Errorf("action %q already registered", a.Type())
	}
	r.actions[a.Type()] = a
	return nil
}

// Lookup returns the action registered for typ.
func (r *Registry) Lookup(typ string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[typ]
	return a, ok
}

// Types returns the registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.actions))
}
