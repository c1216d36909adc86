package backend

import (
	"sort"
	"sync"
)

// Factory creates a backend instance. Backend packages register a
// factory from init; instantiation is deferred until selection so that
// importing a backend costs nothing when another one is chosen.
type Factory func() GraphicsBackend

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var reg = registry{factories: make(map[string]Factory)}

// Register makes a backend available under name. A later registration
// of the same name wins, which lets tests shadow a real backend.
func Register(name string, factory Factory) {
	reg.mu.Lock()
	reg.factories[name] = factory
	reg.mu.Unlock()
}

// unregister removes a registration. Tests use it to undo shadowing.
func unregister(name string) {
	reg.mu.Lock()
	delete(reg.factories, name)
	reg.mu.Unlock()
}

// Get instantiates the named backend, or nil when no such backend is
// registered.
func Get(name string) GraphicsBackend {
	reg.mu.RLock()
	factory := reg.factories[name]
	reg.mu.RUnlock()
	if factory == nil {
		return nil
	}
	return factory()
}

// Available returns the registered backend names, sorted.
func Available() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	names := make([]string, 0, len(reg.factories))
	for name := range reg.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default instantiates the preferred backend: native when registered,
// otherwise null, otherwise whatever else is there. Nil when the
// registry is empty.
func Default() GraphicsBackend {
	for _, name := range []string{BackendNative, BackendNull} {
		if b := Get(name); b != nil {
			return b
		}
	}
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for _, factory := range reg.factories {
		return factory()
	}
	return nil
}

// InitDefault selects the default backend and initializes it.
func InitDefault() (GraphicsBackend, error) {
	b := Default()
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	if err := b.Init(); err != nil {
		return nil, err
	}
	return b, nil
}
