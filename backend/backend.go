// Package backend selects and wires the external collaborators of the
// shader subsystem: the shader compiler that turns source into bytecode
// and the device that turns bytecode pairs into pipeline objects.
// Implementations register themselves by name; the rest of the engine
// only ever sees the shader.Compiler and pipeline.Device interfaces.
package backend

import (
	"errors"

	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called before Init.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Backend name constants.
const (
	// BackendNative is the pure Go GPU backend (gogpu/wgpu hal + naga).
	BackendNative = "native"

	// BackendNull is the no-GPU backend: real compilation and caching,
	// inert pipeline objects. Used headless and in tests.
	BackendNull = "null"
)

// Kind is the explicit backend discriminator stored once at startup.
// Dispatch on Kind replaces runtime type inspection of renderer objects.
type Kind int

const (
	// KindNull identifies the no-GPU backend.
	KindNull Kind = iota

	// KindNative identifies the gogpu/wgpu hal backend.
	KindNative
)

// String returns the registry name of the kind.
func (k Kind) String() string {
	if k == KindNative {
		return BackendNative
	}
	return BackendNull
}

// GraphicsBackend bundles the two collaborator interfaces the shader and
// pipeline subsystems consume.
type GraphicsBackend interface {
	// Name returns the backend identifier (e.g. "native", "null").
	Name() string

	// Kind returns the explicit backend discriminator.
	Kind() Kind

	// Init initializes the backend. Must be called before Compiler or
	// Device.
	Init() error

	// Compiler returns the shader compiler collaborator.
	Compiler() shader.Compiler

	// Device returns the pipeline device collaborator.
	Device() pipeline.Device

	// Close releases all backend resources.
	Close()
}
