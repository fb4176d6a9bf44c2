package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dl-alexandre/cloudsync/internal/logging"
)

// Factory constructs a connector instance from its dependencies
type Factory func(deps Deps) Connector

// Registry is the closed provider table. It is owned by one orchestrator
// instance and constructed explicitly; there is no process-global state.
type Registry struct {
	mu        sync.Mutex
	deps      Deps
	factories map[string]Factory
	instances map[string]Connector
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:      deps.normalized(),
		factories: make(map[string]Factory),
		instances: make(map[string]Connector),
	}
}

// NewDefaultRegistry creates a registry with every built-in provider
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(deps)
	r.Register("github", func(d Deps) Connector { return NewGitHub(d) })
	r.Register("gdrive", func(d Deps) Connector { return NewGoogleDrive(d) })
	r.Register("dropbox", func(d Deps) Connector { return NewDropbox(d) })
	r.Register("notion", func(d Deps) Connector { return NewNotion(d) })
	r.Register("onedrive", func(d Deps) Connector { return NewOneDrive(d) })
	return r
}

// Register adds a provider factory under an id
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
}

// Known reports whether a provider id is registered
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[id]
	return ok
}

// Providers returns the sorted list of registered provider ids
func (r *Registry) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the connector instance for a provider, constructing it
// lazily on first use.
func (r *Registry) Get(id string) (Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if instance, ok := r.instances[id]; ok {
		return instance, nil
	}
	factory, ok := r.factories[id]
	if !ok {
		return nil, NewError(id, fmt.Sprintf("unknown provider %q", id))
	}
	instance := factory(r.deps)
	r.instances[id] = instance
	return instance, nil
}

// Drop removes an instantiated connector, closing it first
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	instance, ok := r.instances[id]
	delete(r.instances, id)
	r.mu.Unlock()
	if ok {
		_ = instance.Close()
	}
}

// CloseAll closes every instantiated connector. Each close is wrapped
// individually so one provider's failure does not block the rest.
func (r *Registry) CloseAll(logger logging.Logger) {
	r.mu.Lock()
	instances := make(map[string]Connector, len(r.instances))
	for id, instance := range r.instances {
		instances[id] = instance
	}
	r.instances = make(map[string]Connector)
	r.mu.Unlock()

	if logger == nil {
		logger = logging.NewNopLogger()
	}
	for id, instance := range instances {
		if err := instance.Close(); err != nil {
			logger.Error("error closing provider", logging.F("provider", id), logging.Err(err))
		}
	}
}
