package generator

import (
	"fmt"
	"net/http"
	"slices"
	"sync"
)

// ProviderConfig is the connection configuration of a provider.
type ProviderConfig struct {
	Name        string
	APIKey      string
	APIEndpoint string
	Extra       map[string]string
	HTTPClient  *http.Client
}

// Constructor builds an Adapter from provider configuration.
type Constructor func(cfg ProviderConfig) (Adapter, error)

// UnknownAdapterError is returned when no constructor is registered for a name.
type UnknownAdapterError struct {
	Name string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter %q", e.Name)
}

// Registry maps adapter names to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in adapter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(RunPodAdapterName, NewRunPodAdapterFromConfig)
	r.Register(BeamAdapterName, NewBeamAdapterFromConfig)
	r.Register(OpenAIAdapterName, NewOpenAIAdapterFromConfig)
	return r
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Build constructs the adapter registered under name.
// It returns *UnknownAdapterError for unregistered names.
func (r *Registry) Build(name string, cfg ProviderConfig) (Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownAdapterError{Name: name}
	}
	a, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("build adapter %s: %w", name, err)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
