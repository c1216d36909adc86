// Package native runs shader compilation and pipeline construction on a
// real GPU through gogpu/wgpu's HAL. Shaders are translated by the wgsl
// package and pipelines are built against a standalone Vulkan device.
package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vortex/backend"
	"github.com/gogpu/vortex/backend/wgsl"
	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// ErrNoAdapter is returned when the Vulkan backend exposes no usable GPU.
var ErrNoAdapter = errors.New("native: no GPU adapters found")

// init registers the native backend on package import.
//
// To use the native backend, import this package:
//
//	import _ "github.com/gogpu/vortex/backend/native"
func init() {
	backend.Register(backend.BackendNative, func() backend.GraphicsBackend {
		return &Backend{}
	})
}

// Backend is the GPU-accelerated backend. It owns a standalone Vulkan
// instance and device for the lifetime of the subsystem.
//
// Backend is safe for concurrent use from multiple goroutines.
type Backend struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	initialized bool
}

// NewBackend creates an uninitialized native backend. Init must be
// called before Compiler or Device.
func NewBackend() *Backend {
	return &Backend{}
}

// Name returns the backend identifier.
func (b *Backend) Name() string {
	return backend.BackendNative
}

// Kind returns the backend kind.
func (b *Backend) Kind() backend.Kind {
	return backend.KindNative
}

// Init creates the Vulkan instance and opens a device on the best
// available adapter, preferring discrete over integrated GPUs.
func (b *Backend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan not available", backend.ErrBackendNotAvailable)
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("native: open device: %w", err)
	}

	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.initialized = true

	logger().Info("native: backend initialized", "adapter", selected.Info.Name)
	return nil
}

// Compiler returns the naga-backed WGSL compiler.
func (b *Backend) Compiler() shader.Compiler {
	return wgsl.NewCompiler()
}

// Device returns the pipeline device bound to the backend's HAL device.
// Returns nil until Init succeeds.
func (b *Backend) Device() pipeline.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	return &halPipelineDevice{device: b.device, queue: b.queue}
}

// Close releases the device and instance.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		b.device.Destroy()
		b.device = nil
	}
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
	b.queue = nil
	b.initialized = false
}
