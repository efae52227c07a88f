// Package plugin provides the compile-time analogue of dynamic
// class-path loading: factory registries keyed by string, one per
// engine kind. Engine-class environment settings name registered keys;
// an unknown key fails at startup listing the keys which exist.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Factory builds one engine instance. Kwargs come from the pipeline
// schedule or are nil for env-selected engines.
type Factory[T any] func(kwargs map[string]any) (T, error)

// Registry holds the known factories of one engine kind.
type Registry[T any] struct {
	kind string

	mu        sync.Mutex
	factories map[string]Factory[T]
}

// NewRegistry builds a registry for the named engine kind. The kind
// appears in resolution errors ("unknown rules engine ...").
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		factories: make(map[string]Factory[T]),
	}
}

// Register binds a key to a factory. Registering a key twice panics:
// it's a programming error caught at init.
func (r *Registry[T]) Register(key string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[key]; ok {
		panic(fmt.Sprintf("%s factory %q registered twice", r.kind, key))
	}
	r.factories[key] = factory
}

// Resolve looks a key up, failing with the known keys when absent.
func (r *Registry[T]) Resolve(key string) (Factory[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var factory, ok = r.factories[key]
	if !ok {
		var zero Factory[T]
		return zero, fmt.Errorf("unknown %s %q (known: %s)",
			r.kind, key, strings.Join(r.keysLocked(), ", "))
	}
	return factory, nil
}

// Build resolves |key| and invokes its factory in one step.
func (r *Registry[T]) Build(key string, kwargs map[string]any) (T, error) {
	var factory, err = r.Resolve(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return factory(kwargs)
}

// Keys lists registered keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keysLocked()
}

func (r *Registry[T]) keysLocked() []string {
	var keys = make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
