package pipeline

import (
	"fmt"
	"sync"

	"github.com/gogpu/vortex/shader"
)

// Manager owns every PSO in the process, keyed by deterministic
// identifier and partitioned by kind for ordered drawing. PSO creation
// uses double-check locking: a fast read-locked lookup, then a write-
// locked re-check before the expensive shader resolution and backend
// build.
type Manager struct {
	device Device
	packs  *shader.Manager

	mu   sync.RWMutex
	psos map[Kind]map[string]*StateObject

	// globalCfg is the renderer configuration applied to every shader
	// pack, guarded by mu together with the tables.
	globalCfg shader.Configuration
}

// NewManager creates a pipeline manager building PSOs on dev from the
// shader packs registered with sm.
func NewManager(dev Device, sm *shader.Manager) (*Manager, error) {
	if dev == nil {
		return nil, ErrNilDevice
	}
	return &Manager{
		device: dev,
		packs:  sm,
		psos: map[Kind]map[string]*StateObject{
			KindOpaque:      make(map[string]*StateObject),
			KindTransparent: make(map[string]*StateObject),
		},
	}, nil
}

// Device returns the backend device PSOs are built on.
func (m *Manager) Device() Device {
	return m.device
}

// GlobalConfiguration returns the current renderer-wide shader
// configuration.
func (m *Manager) GlobalConfiguration() shader.Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalCfg
}

// GetOrCreatePSO returns a counted handle to the PSO for the given
// shader pair and blend flag, creating and building the PSO on first
// request. Unknown shader names, binding conflicts and backend failures
// surface as errors and leave no PSO registered.
func (m *Manager) GetOrCreatePSO(vertexShader, fragmentShader string, blending bool, owner Referencer) (*Handle, error) {
	if owner == nil {
		return nil, fmt.Errorf("pipeline: GetOrCreatePSO: owner is nil")
	}
	kind := KindOpaque
	if blending {
		kind = KindTransparent
	}
	id := Identifier(vertexShader, fragmentShader, blending)

	// Fast path: read lock. The reference must be registered before the
	// lock is dropped: a concurrent last-handle Release blocks on the
	// write lock in onUnreferenced, and its recheck has to observe this
	// reference or it would evict a PSO we are about to hand out.
	m.mu.RLock()
	if pso, ok := m.psos[kind][id]; ok {
		pso.addReference(owner)
		m.mu.RUnlock()
		return newHandle(m, pso, owner), nil
	}
	m.mu.RUnlock()

	// Slow path: write lock with double-check.
	m.mu.Lock()
	defer m.mu.Unlock()
	if pso, ok := m.psos[kind][id]; ok {
		pso.addReference(owner)
		return newHandle(m, pso, owner), nil
	}

	vertexRef, err := m.packs.AcquirePack(vertexShader)
	if err != nil {
		return nil, fmt.Errorf("pipeline: vertex shader: %w", err)
	}
	fragmentRef, err := m.packs.AcquirePack(fragmentShader)
	if err != nil {
		vertexRef.Release()
		return nil, fmt.Errorf("pipeline: fragment shader: %w", err)
	}

	pso := newStateObject(id, kind, vertexRef, fragmentRef)
	if err := pso.ensureBuilt(m.device); err != nil {
		pso.destroy()
		return nil, err
	}

	m.psos[kind][id] = pso
	pso.addReference(owner)
	logger().Info("pipeline state object created", "pso", id, "kind", kind.String())
	return newHandle(m, pso, owner), nil
}

// onUnreferenced is called by the last Handle release of a PSO. The PSO
// is destroyed and dropped unless a new reference appeared in between.
func (m *Manager) onUnreferenced(pso *StateObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pso.ReferenceCount() > 0 {
		return
	}
	if current, ok := m.psos[pso.kind][pso.id]; !ok || current != pso {
		return
	}
	delete(m.psos[pso.kind], pso.id)
	pso.destroy()
	logger().Info("pipeline state object removed", "pso", pso.id)
}

// PSOCount returns the number of registered PSOs across all kinds.
func (m *Manager) PSOCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, table := range m.psos {
		n += len(table)
	}
	return n
}

// ForEach visits every PSO in draw order: all opaque PSOs first, then
// all transparent ones. The manager lock is held for the duration, so
// the visitor must not create or release PSOs.
func (m *Manager) ForEach(visit func(*StateObject)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, kind := range []Kind{KindOpaque, KindTransparent} {
		for _, pso := range m.psos[kind] {
			visit(pso)
		}
	}
}

// SetGlobalConfiguration performs the settings-change rebuild protocol:
//
//  1. Under the manager lock, flush in-flight GPU work that may still
//     reference existing pipeline objects.
//  2. Release every PSO's backend resources; Go identities and material
//     reference sets survive, so existing handles stay valid.
//  3. Install the new configuration and propagate it to every shader
//     pack.
//  4. Each PSO rebuilds lazily on its next use.
//
// Rebuilding eagerly would waste work on PSOs that are not immediately
// drawn again. Callers must hold frame-level exclusion: do not call this
// mid-draw.
//
// Lock order: manager table lock → per-pack lock → per-shader lock.
func (m *Manager) SetGlobalConfiguration(cfg shader.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.globalCfg.Equal(cfg) {
		return nil
	}
	if err := m.device.Flush(); err != nil {
		return shader.LocateInternal(err, "Manager.SetGlobalConfiguration flush")
	}
	released := 0
	for _, table := range m.psos {
		for _, pso := range table {
			pso.releaseInternals()
			released++
		}
	}
	m.globalCfg = cfg
	m.packs.SetRendererConfiguration(cfg)
	logger().Info("global shader configuration changed",
		"configuration", cfg.String(), "psos_invalidated", released)
	return nil
}

// Close flushes the device and destroys every PSO. Outstanding handles
// become inert: their PSOs report zero references but no backend state
// remains.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.device.Flush(); err != nil {
		logger().Warn("device flush failed during pipeline manager close", "error", err)
	}
	for kind, table := range m.psos {
		for id, pso := range table {
			pso.destroy()
			delete(m.psos[kind], id)
		}
	}
	return nil
}
