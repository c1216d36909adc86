// Package material implements the render-facing material: a named pair
// of shader references plus a transparency flag, coupled to exactly one
// pipeline state object through a counted handle.
package material

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/vortex/pipeline"
)

// ErrClosed is returned when using a material after Close.
var ErrClosed = errors.New("material: closed")

// Material pairs a vertex and a fragment shader with a transparency flag
// and holds the counted PSO handle that couples it to the pipeline
// manager. A material references exactly one PSO at a time; the handle
// protocol is the only coupling between the two.
type Material struct {
	name           string
	vertexShader   string
	fragmentShader string
	transparent    bool

	mu     sync.Mutex
	mgr    *pipeline.Manager
	handle *pipeline.Handle
	closed bool
}

// New creates a material and immediately requests its PSO from the
// pipeline manager. Unknown shader names or a failed pipeline build
// surface here; a material is never left with an unset handle.
func New(name, vertexShader, fragmentShader string, transparent bool, mgr *pipeline.Manager) (*Material, error) {
	if mgr == nil {
		return nil, pipeline.ErrNilManager
	}
	m := &Material{
		name:           name,
		vertexShader:   vertexShader,
		fragmentShader: fragmentShader,
		transparent:    transparent,
		mgr:            mgr,
	}
	h, err := mgr.GetOrCreatePSO(vertexShader, fragmentShader, transparent, m)
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", name, err)
	}
	m.handle = h
	return m, nil
}

// ReferenceName identifies the material in PSO reference sets and logs.
func (m *Material) ReferenceName() string {
	return m.name
}

// Name returns the material name.
func (m *Material) Name() string {
	return m.name
}

// VertexShader returns the vertex shader name.
func (m *Material) VertexShader() string {
	return m.vertexShader
}

// FragmentShader returns the fragment shader name.
func (m *Material) FragmentShader() string {
	return m.fragmentShader
}

// Transparent reports whether the material draws in the blended pass.
func (m *Material) Transparent() bool {
	return m.transparent
}

// PSO returns the material's pipeline state object, or an error after
// Close.
func (m *Material) PSO() (*pipeline.StateObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.handle.PSO(), nil
}

// SetShaders repoints the material at a different shader pair. The old
// handle is released only after the new PSO was acquired, so a failure
// leaves the material on its previous pipeline.
func (m *Material) SetShaders(vertexShader, fragmentShader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	h, err := m.mgr.GetOrCreatePSO(vertexShader, fragmentShader, m.transparent, m)
	if err != nil {
		return fmt.Errorf("material %q: %w", m.name, err)
	}
	m.handle.Release()
	m.handle = h
	m.vertexShader = vertexShader
	m.fragmentShader = fragmentShader
	return nil
}

// Close releases the PSO handle. Idempotent.
func (m *Material) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.handle.Release()
	m.handle = nil
}
