package pipeline

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vortex/shader"
)

// Kind partitions PSOs by draw order: opaque geometry draws before
// transparent geometry, so the manager groups its tables by kind and
// iteration during drawing comes out naturally ordered.
type Kind int

const (
	// KindOpaque is the pass for non-blended geometry.
	KindOpaque Kind = iota

	// KindTransparent is the pass for alpha-blended geometry.
	KindTransparent
)

// String returns the kind name used in PSO identifiers and logs.
func (k Kind) String() string {
	if k == KindTransparent {
		return "transparent"
	}
	return "opaque"
}

// Identifier returns the deterministic PSO identity for a shader pair and
// blend flag. Two materials requesting the same triple share one PSO.
func Identifier(vertexShader, fragmentShader string, blending bool) string {
	k := KindOpaque
	if blending {
		k = KindTransparent
	}
	return vertexShader + "|" + fragmentShader + "|" + k.String()
}

// Referencer identifies an object holding a counted reference to a PSO,
// typically a material. Only identity matters; the PSO never calls into
// its referencers.
type Referencer interface {
	ReferenceName() string
}

// StateObject is one pipeline state object: the backend pipeline built
// from a resolved vertex/fragment shader pair plus fixed-function state,
// shared by every material that requested the same identifier.
//
// The Go object's identity is stable across settings-change rebuilds:
// releaseInternals drops only the backend pipeline, and the next use
// rebuilds it for the then-current shader configuration. Reference
// bookkeeping lives behind its own lock and survives rebuilds untouched.
type StateObject struct {
	id   string
	kind Kind

	vertexRef   *shader.PackRef
	fragmentRef *shader.PackRef

	// build state, guarded by buildMu
	buildMu  sync.Mutex
	built    bool
	backend  DevicePipeline
	bindings []shader.Binding

	// material references, guarded by refMu. Counted per referencer:
	// a material switching shaders holds the new handle before releasing
	// the old one, so the same owner may briefly carry two references to
	// one PSO.
	refMu sync.Mutex
	refs  map[Referencer]int
}

// newStateObject wires a PSO shell; the backend pipeline is built lazily
// by ensureBuilt.
func newStateObject(id string, kind Kind, vertexRef, fragmentRef *shader.PackRef) *StateObject {
	return &StateObject{
		id:          id,
		kind:        kind,
		vertexRef:   vertexRef,
		fragmentRef: fragmentRef,
		refs:        make(map[Referencer]int),
	}
}

// ID returns the deterministic PSO identifier.
func (p *StateObject) ID() string {
	return p.id
}

// Kind returns the draw-order partition of the PSO.
func (p *StateObject) Kind() Kind {
	return p.kind
}

// BindingSignature returns the merged binding signature from the last
// build, or nil when the PSO has not been built yet.
func (p *StateObject) BindingSignature() []shader.Binding {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	return p.bindings
}

// IsBuilt reports whether the backend pipeline currently exists.
func (p *StateObject) IsBuilt() bool {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	return p.built
}

// Backend returns the backend pipeline object, building it first if
// needed. Drawing code calls this each time it binds the PSO, which is
// what makes the invalidate-then-lazily-rebuild settings protocol work.
func (p *StateObject) Backend(dev Device) (DevicePipeline, error) {
	if err := p.ensureBuilt(dev); err != nil {
		return nil, err
	}
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	return p.backend, nil
}

// ensureBuilt resolves both shader packs for the current renderer
// configuration, merges their binding signatures and creates the backend
// pipeline. No-op when already built.
//
// Lock order: PSO build lock → pack lock (inside Resolve) → shader lock
// (inside Bytecode). Never the reverse.
func (p *StateObject) ensureBuilt(dev Device) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	if p.built {
		return nil
	}

	vs, err := p.vertexRef.Pack().Resolve(shader.Configuration{})
	if err != nil {
		return shader.LocateInternal(err, fmt.Sprintf("PSO(%s) resolve vertex shader", p.id))
	}
	fs, err := p.fragmentRef.Pack().Resolve(shader.Configuration{})
	if err != nil {
		return shader.LocateInternal(err, fmt.Sprintf("PSO(%s) resolve fragment shader", p.id))
	}

	bindings, err := MergeBindings(vs.Bindings(), fs.Bindings())
	if err != nil {
		return err
	}

	vsCode, err := vs.Bytecode()
	if err != nil {
		return shader.LocateInternal(err, fmt.Sprintf("PSO(%s) vertex bytecode", p.id))
	}
	fsCode, err := fs.Bytecode()
	if err != nil {
		return shader.LocateInternal(err, fmt.Sprintf("PSO(%s) fragment bytecode", p.id))
	}

	desc := &Descriptor{
		Label:              p.id,
		VertexBytecode:     vsCode,
		VertexEntryPoint:   vs.EntryPoint(),
		FragmentBytecode:   fsCode,
		FragmentEntryPoint: fs.EntryPoint(),
		Bindings:           bindings,
		Topology:           gputypes.PrimitiveTopologyTriangleList,
		FrontFace:          gputypes.FrontFaceCCW,
		CullMode:           gputypes.CullModeBack,
		ColorFormat:        gputypes.TextureFormatBGRA8Unorm,
		DepthFormat:        gputypes.TextureFormatDepth24PlusStencil8,
		SampleCount:        1,
	}
	if p.kind == KindTransparent {
		desc.Blend = AlphaBlendState()
	}

	backend, err := dev.CreateRenderPipeline(desc)
	if err != nil {
		return shader.LocateInternal(err, fmt.Sprintf("PSO(%s) backend create", p.id))
	}

	p.backend = backend
	p.bindings = bindings
	p.built = true
	logger().Debug("built pipeline state object",
		"pso", p.id, "kind", p.kind.String(), "bindings", len(bindings))
	return nil
}

// releaseInternals destroys the backend pipeline while keeping the Go
// object, its shader pack references and its material reference set
// intact. The next Backend call rebuilds against the current
// configuration.
func (p *StateObject) releaseInternals() {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	if !p.built {
		return
	}
	p.backend.Destroy()
	p.backend = nil
	p.bindings = nil
	p.built = false
}

// destroy releases everything: backend pipeline and shader pack
// references. Called by the manager once no material references remain.
func (p *StateObject) destroy() {
	p.releaseInternals()
	p.vertexRef.Release()
	p.fragmentRef.Release()
}

// addReference registers one counted reference from a material. Only the
// manager calls this, while holding its table lock.
func (p *StateObject) addReference(r Referencer) {
	p.refMu.Lock()
	defer p.refMu.Unlock()
	p.refs[r]++
}

// removeReference drops one counted reference and reports whether no
// references remain. Only Handle calls this.
func (p *StateObject) removeReference(r Referencer) (empty bool) {
	p.refMu.Lock()
	defer p.refMu.Unlock()
	if n := p.refs[r]; n > 1 {
		p.refs[r] = n - 1
	} else {
		delete(p.refs, r)
	}
	return len(p.refs) == 0
}

// ReferenceCount returns the total number of handles currently
// referencing the PSO.
func (p *StateObject) ReferenceCount() int {
	p.refMu.Lock()
	defer p.refMu.Unlock()
	n := 0
	for _, c := range p.refs {
		n += c
	}
	return n
}
