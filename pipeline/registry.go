package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// UnknownPipelineError is returned by Registry.Get for a name with no
// registered pipeline.
type UnknownPipelineError struct {
	Name  string
	Known []string
}

func (e *UnknownPipelineError) Error() string {
	return fmt.Sprintf("no pipeline registered for %q (known: %s)",
		e.Name, strings.Join(e.Known, ", "))
}

type registryEntry struct {
	task         Task
	defaultSleep *time.Duration
}

// Registry maps phase names to their pipeline instance and default
// sleep. It's populated once during startup and immutable afterwards:
// pipeline instances are constructed once and reused for the process
// lifetime.
type Registry struct {
	entries map[string]registryEntry
	sealed  bool
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register binds a name to a pipeline. A nil defaultSleep defers to the
// loop's fallback interval.
func (r *Registry) Register(name string, task Task, defaultSleep *time.Duration) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed; cannot register %q", name)
	}
	if name == "" {
		return fmt.Errorf("pipeline name must not be empty")
	}
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("pipeline %q registered twice", name)
	}
	r.entries[name] = registryEntry{task: task, defaultSleep: defaultSleep}
	return nil
}

// Seal freezes the registry once startup registration is complete.
func (r *Registry) Seal() { r.sealed = true }

// Get resolves a pipeline name.
func (r *Registry) Get(name string) (Task, *time.Duration, error) {
	var entry, ok = r.entries[name]
	if !ok {
		return nil, nil, &UnknownPipelineError{Name: name, Known: r.Names()}
	}
	return entry.task, entry.defaultSleep, nil
}

// Names lists registered pipeline names in sorted order.
func (r *Registry) Names() []string {
	var names = make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
