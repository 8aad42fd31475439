package plugin

import "sort"

// Factory constructs a fresh, un-initialised plugin instance.
type Factory func() Plugin

// factories maps plugin names to their constructors. Registration runs
// from package init functions, so no locking is needed.
var factories = map[string]Factory{}

// RegisterFactory makes a plugin constructible by name from config.
// Built-in plugins call this from init; a later registration under the
// same name wins.
func RegisterFactory(name string, factory Factory) {
	factories[name] = factory
}

// GetFactory looks up a plugin factory by name.
func GetFactory(name string) (Factory, bool) {
	f, ok := factories[name]
	return f, ok
}

// RegisteredPlugins returns the sorted names of every registered factory.
func RegisteredPlugins() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
