package tasks

import (
	"fmt"
	"sort"
	"time"
)

// Limits bound one execution. Zero values fall back to the runner defaults.
type Limits struct {
	Soft time.Duration
	Hard time.Duration
}

type registration struct {
	handler Handler
	limits  Limits
}

// Registry maps task names to handlers. It is filled once at start-up.
type Registry struct {
	handlers map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register panics on a duplicate name; registration happens at start-up only.
func (r *Registry) Register(name string, handler Handler, limits Limits) {
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("tasks: handler %q registered twice", name))
	}
	r.handlers[name] = registration{handler: handler, limits: limits}
}

func (r *Registry) lookup(name string) (registration, bool) {
	reg, ok := r.handlers[name]
	return reg, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
