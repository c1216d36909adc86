// Package pipeline builds and caches GPU pipeline state objects (PSOs)
// from resolved shader pairs and tracks which materials reference each
// PSO, so that global rendering-settings changes can tear down and
// lazily rebuild backend state without invalidating the identities
// materials hold on to.
package pipeline

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vortex/shader"
)

// Pipeline package errors.
var (
	// ErrNilDevice is returned when a manager is created without a device.
	ErrNilDevice = errors.New("pipeline: device is nil")

	// ErrNilManager is returned when a material requests a PSO from a nil
	// manager.
	ErrNilManager = errors.New("pipeline: manager is nil")

	// ErrHandleReleased is returned when using a handle after Release.
	ErrHandleReleased = errors.New("pipeline: handle already released")
)

// BindingConflictError reports that the vertex and fragment shaders of a
// PSO declare incompatible resources at the same (group, binding) slot.
type BindingConflictError struct {
	Group, Binding uint32
	VertexKind     shader.BindingKind
	FragmentKind   shader.BindingKind
}

func (e *BindingConflictError) Error() string {
	return fmt.Sprintf("pipeline: binding conflict at group %d binding %d: vertex declares %s, fragment declares %s",
		e.Group, e.Binding, e.VertexKind, e.FragmentKind)
}

// AlphaBlendState returns the premultiplied source-over blend state used
// for transparent PSOs. A nil blend state on a descriptor means no
// blending (source replaces destination).
func AlphaBlendState() *gputypes.BlendState {
	bs := gputypes.BlendStatePremultiplied()
	return &bs
}

// Descriptor carries everything a backend device needs to build one
// render pipeline object: the resolved shader pair's bytecode and entry
// points, the merged binding signature, and fixed-function state.
type Descriptor struct {
	Label string

	VertexBytecode     []byte
	VertexEntryPoint   string
	FragmentBytecode   []byte
	FragmentEntryPoint string

	// Bindings is the merged binding signature of both shaders, sorted by
	// (group, binding).
	Bindings []shader.Binding

	Blend       *gputypes.BlendState
	Topology    gputypes.PrimitiveTopology
	FrontFace   gputypes.FrontFace
	CullMode    gputypes.CullMode
	ColorFormat gputypes.TextureFormat
	DepthFormat gputypes.TextureFormat
	SampleCount uint32
}

// DevicePipeline is a backend pipeline object created by a Device.
type DevicePipeline interface {
	// Destroy releases the backend resources of the pipeline object.
	Destroy()
}

// Device is the backend device collaborator. Implementations live under
// backend/; the subsystem never touches raw graphics API state beyond
// this surface.
type Device interface {
	// CreateRenderPipeline builds a backend pipeline object. Backend
	// failures come back wrapped as ordinary errors and the PSO is not
	// registered.
	CreateRenderPipeline(desc *Descriptor) (DevicePipeline, error)

	// Flush blocks until in-flight GPU work that may still reference
	// existing pipeline objects has completed. Called before tearing down
	// PSO internals on a settings change.
	Flush() error

	// Close releases the device.
	Close() error
}

// MergeBindings merges the reflected binding tables of a vertex and a
// fragment shader into one signature. The same (group, binding) slot may
// appear in both stages only with the same resource kind; a kind mismatch
// is a BindingConflictError. The result is sorted by group, then binding.
func MergeBindings(vertex, fragment []shader.Binding) ([]shader.Binding, error) {
	type slot struct{ group, binding uint32 }
	merged := make(map[slot]shader.Binding, len(vertex)+len(fragment))

	for _, b := range vertex {
		merged[slot{b.Group, b.Binding}] = b
	}
	for _, b := range fragment {
		key := slot{b.Group, b.Binding}
		if existing, ok := merged[key]; ok {
			if existing.Kind != b.Kind {
				return nil, &BindingConflictError{
					Group: b.Group, Binding: b.Binding,
					VertexKind: existing.Kind, FragmentKind: b.Kind,
				}
			}
			continue
		}
		merged[key] = b
	}

	out := make([]shader.Binding, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b shader.Binding) int {
		if c := cmp.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.Binding, b.Binding)
	})
	return out, nil
}
