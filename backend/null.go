package backend

import (
	"crypto/sha256"
	"sync/atomic"

	"github.com/gogpu/vortex/backend/wgsl"
	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// NullBackend compiles nothing and creates no GPU state. Translation
// still runs the shared preprocessor and reflection so validation and
// caching behave as they do on a real device, but bytecode is a digest
// of the translated source rather than SPIR-V.
type NullBackend struct {
	initialized bool
	device      *nullDevice
}

// init registers the null backend on package import.
func init() {
	Register(BackendNull, func() GraphicsBackend {
		return &NullBackend{}
	})
}

// NewNullBackend creates a new null backend.
func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

// Name returns the backend identifier.
func (b *NullBackend) Name() string {
	return BackendNull
}

// Kind returns the backend kind.
func (b *NullBackend) Kind() Kind {
	return KindNull
}

// Init initializes the backend.
func (b *NullBackend) Init() error {
	b.initialized = true
	return nil
}

// Compiler returns a compiler that preprocesses and reflects source but
// emits digest bytecode instead of SPIR-V.
func (b *NullBackend) Compiler() shader.Compiler {
	return &nullCompiler{}
}

// Device returns a device whose pipelines hold no GPU resources. The
// backend owns exactly one device.
func (b *NullBackend) Device() pipeline.Device {
	if b.device == nil {
		b.device = &nullDevice{}
	}
	return b.device
}

// Close releases all backend resources.
func (b *NullBackend) Close() {
	b.initialized = false
}

type nullCompiler struct{}

func (c *nullCompiler) Compile(req shader.CompileRequest) (*shader.CompiledProgram, *shader.Diagnostic, error) {
	translated, diag, err := wgsl.Preprocess(req.SourcePath, req.Source, req.Macros)
	if err != nil {
		return nil, nil, err
	}
	if diag != nil {
		return nil, diag, nil
	}

	bindings, err := wgsl.ReflectBindings(translated)
	if err != nil {
		return nil, nil, err
	}

	sum := sha256.Sum256([]byte(translated))
	return &shader.CompiledProgram{
		Bytecode: sum[:],
		Bindings: bindings,
	}, nil, nil
}

type nullDevice struct {
	pipelines atomic.Int64
}

func (d *nullDevice) CreateRenderPipeline(desc *pipeline.Descriptor) (pipeline.DevicePipeline, error) {
	d.pipelines.Add(1)
	return &nullPipeline{device: d}, nil
}

func (d *nullDevice) Flush() error { return nil }

func (d *nullDevice) Close() error { return nil }

// PipelineCount reports how many pipelines are currently alive.
// Used by tests to observe rebuild behavior.
func (d *nullDevice) PipelineCount() int64 {
	return d.pipelines.Load()
}

type nullPipeline struct {
	device    *nullDevice
	destroyed atomic.Bool
}

func (p *nullPipeline) Destroy() {
	if p.destroyed.CompareAndSwap(false, true) {
		p.device.pipelines.Add(-1)
	}
}
