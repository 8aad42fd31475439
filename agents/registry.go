package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/relay-labs/agent-router/internal/logging"
)

// snapshot is the immutable state readers see. byCapability maps a
// lowercased capability tag to the agents declaring it.
type snapshot struct {
	byName       map[string]Descriptor
	byCapability map[string][]Descriptor
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byName:       map[string]Descriptor{},
		byCapability: map[string][]Descriptor{},
	}
}

// Registry is the concurrency-safe agent registry. Reads load the current
// snapshot without locking; writes serialize on mu and swap in a rebuilt
// snapshot.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot())
	return r
}

// Register adds or replaces an agent descriptor. Registering a name that
// already exists replaces the previous descriptor atomically.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snap.Load()
	next := make(map[string]Descriptor, len(cur.byName)+1)
	for k, v := range cur.byName {
		next[k] = v
	}
	next[d.Name] = d
	r.snap.Store(rebuild(next))

	logging.Logger.Info("agent registered",
		"agent", d.Name,
		"capabilities", d.Capabilities,
		"privileged", d.Privileged,
	)
	return nil
}

// Deregister removes an agent by name. Unknown names return ErrNotFound.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snap.Load()
	if _, ok := cur.byName[name]; !ok {
		return fmt.Errorf("deregister %s: %w", name, ErrNotFound)
	}
	next := make(map[string]Descriptor, len(cur.byName)-1)
	for k, v := range cur.byName {
		if k != name {
			next[k] = v
		}
	}
	r.snap.Store(rebuild(next))

	logging.Logger.Info("agent deregistered", "agent", name)
	return nil
}

// rebuild constructs a snapshot with its capability index from a name map.
func rebuild(byName map[string]Descriptor) *snapshot {
	s := &snapshot{
		byName:       byName,
		byCapability: make(map[string][]Descriptor),
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := byName[name]
		for _, tag := range d.Capabilities {
			key := strings.ToLower(tag)
			s.byCapability[key] = append(s.byCapability[key], d)
		}
	}
	return s
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.snap.Load().byName[name]
	return d, ok
}

// FindByCapability returns all agents declaring the given capability tag,
// matched case-insensitively, in name order.
func (r *Registry) FindByCapability(capability string) []Descriptor {
	ds := r.snap.Load().byCapability[strings.ToLower(capability)]
	out := make([]Descriptor, len(ds))
	copy(out, ds)
	return out
}

// List returns all registered descriptors in name order.
func (r *Registry) List() []Descriptor {
	snap := r.snap.Load()
	names := make([]string, 0, len(snap.byName))
	for name := range snap.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, snap.byName[name])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	return len(r.snap.Load().byName)
}

// HealthOf probes the named agent's invoker. Invokers that do not
// implement Healther report healthy as long as they are registered.
func (r *Registry) HealthOf(ctx context.Context, name string) error {
	d, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("health of %s: %w", name, ErrNotFound)
	}
	if h, ok := d.Invoker.(Healther); ok {
		return h.Healthy(ctx)
	}
	return nil
}
