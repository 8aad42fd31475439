package providers

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Registry manages a collection of providers for lookup by name.
// It is populated at startup and read-only afterwards, so lookups need
// no synchronisation.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns a provider by name and whether it was found.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// MustGet returns a provider by name or panics if not found.
func (r *Registry) MustGet(name string) Provider {
	p, ok := r.providers[name]
	if !ok {
		panic(fmt.Sprintf("provider not found: %s", name))
	}
	return p
}

// List returns the names of all registered providers in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor describes a registered provider for the /providers endpoint.
type Descriptor struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
}

// Descriptors returns descriptors for all registered providers.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.providers))
	for _, name := range r.List() {
		p := r.providers[name]
		out = append(out, Descriptor{Name: name, Models: p.SupportedModels()})
	}
	return out
}

// HealthAll probes every registered provider with the given per-probe
// timeout and returns the results keyed by provider name.
func (r *Registry) HealthAll(ctx context.Context, timeout time.Duration) map[string]Health {
	out := make(map[string]Health, len(r.providers))
	for name, p := range r.providers {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		out[name] = p.HealthCheck(probeCtx)
		cancel()
	}
	return out
}
