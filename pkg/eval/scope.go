package eval

import (
	"maps"
	"slices"
)

// Scope is a layered variable store. Reads fall back to parent layers;
// writes only ever touch the local layer, so an overlay never mutates its
// parent. A scope belongs to a single run and is not safe for concurrent
// writes.
type Scope struct {
	parent *Scope
	vars   map[string]any
}

// NewScope creates a root scope seeded with vars.
func NewScope(vars map[string]any) *Scope {
	s := &Scope{vars: make(map[string]any, len(vars))}
	maps.Copy(s.vars, vars)
	return s
}

// Overlay returns a child layer on top of s.
func (s *Scope) Overlay() *Scope {
	return &Scope{parent: s, vars: make(map[string]any)}
}

// Parent returns the enclosing layer, nil for a root scope.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Get looks a key up through the layers, innermost first.
func (s *Scope) Get(key string) (any, bool) {
	for l := s; l != nil; l = l.parent {
		if v, ok := l.vars[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds key in the local layer.
func (s *Scope) Set(key string, value any) {
	s.vars[key] = value
}

// Local returns a copy of the bindings made in this layer only.
func (s *Scope) Local() map[string]any {
	return maps.Clone(s.vars)
}

// Merge copies the local bindings of child into s.
func (s *Scope) Merge(child *Scope) {
	maps.Copy(s.vars, child.vars)
}

// Snapshot flattens all layers into one map, inner layers shadowing outer ones.
func (s *Scope) Snapshot() map[string]any {
	var layers []*Scope
	for l := s; l != nil; l = l.parent {
		layers = append(layers, l)
	}
	out := make(map[string]any)
	for _, l := range slices.Backward(layers) {
		maps.Copy(out, l.vars)
	}
	return out
}

// Keys returns the sorted visible keys.
func (s *Scope) Keys() []string {
	return slices.Sorted(maps.Keys(s.Snapshot()))
}
