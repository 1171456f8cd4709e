// Package materialize turns confirmed matches into live handles.
package materialize

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/phobologic/classfind/internal/model"
)

// ErrHandleUnavailable is returned when no live handle can be produced for a
// unit.
var ErrHandleUnavailable = errors.New("handle unavailable")

// Materializer produces a live handle for a qualified unit name.
type Materializer interface {
	Materialize(name string) (model.Handle, error)
}

// Func adapts a function to Materializer.
type Func func(name string) (model.Handle, error)

// Materialize calls f.
func (f Func) Materialize(name string) (model.Handle, error) {
	return f(name)
}

// NameHandle is a handle that carries only the unit's name.
type NameHandle string

// Name returns the qualified name.
func (h NameHandle) Name() string {
	return string(h)
}

// Names materializes every unit as a NameHandle. It never fails.
type Names struct{}

// Materialize returns a NameHandle for name.
func (Names) Materialize(name string) (model.Handle, error) {
	return NameHandle(name), nil
}

// Registry hands out handles registered ahead of time. Unknown names fail
// with ErrHandleUnavailable.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]model.Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]model.Handle)}
}

// Register adds a handle under its own name.
func (r *Registry) Register(h model.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.Name()] = h
}

// RegisterNames registers a NameHandle for every name.
func (r *Registry) RegisterNames(names ...string) {
	for _, n := range names {
		r.Register(NameHandle(n))
	}
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handles))
	for n := range r.handles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Materialize returns the registered handle for name.
func (r *Registry) Materialize(name string) (model.Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrHandleUnavailable, name)
	}
	return h, nil
}

// OrDefault returns m, or Names when m is nil.
func OrDefault(m Materializer) Materializer {
	if m == nil {
		return Names{}
	}
	return m
}
