package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// flushTimeoutNs bounds how long Flush waits for in-flight work.
const flushTimeoutNs = 5_000_000_000

// halPipelineDevice adapts a hal.Device to the pipeline.Device surface.
type halPipelineDevice struct {
	device hal.Device
	queue  hal.Queue
}

var _ pipeline.Device = (*halPipelineDevice)(nil)

// CreateRenderPipeline builds shader modules, bind group layouts and the
// render pipeline from one descriptor. Intermediate resources are torn
// down on failure so a rejected descriptor leaks nothing.
func (d *halPipelineDevice) CreateRenderPipeline(desc *pipeline.Descriptor) (pipeline.DevicePipeline, error) {
	p := &halPipeline{device: d.device}

	vertexModule, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_vs",
		Source: hal.ShaderSource{SPIRV: spirvWords(desc.VertexBytecode)},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create vertex module: %w", err)
	}
	p.vertexModule = vertexModule

	fragmentModule, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_fs",
		Source: hal.ShaderSource{SPIRV: spirvWords(desc.FragmentBytecode)},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("native: create fragment module: %w", err)
	}
	p.fragmentModule = fragmentModule

	layouts, err := d.createBindGroupLayouts(desc.Label, desc.Bindings)
	if err != nil {
		p.Destroy()
		return nil, err
	}
	p.bindLayouts = layouts

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("native: create pipeline layout: %w", err)
	}
	p.pipelineLayout = pipeLayout

	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     vertexModule,
			EntryPoint: desc.VertexEntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     fragmentModule,
			EntryPoint: desc.FragmentEntryPoint,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    desc.ColorFormat,
					Blend:     desc.Blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  desc.Topology,
			FrontFace: desc.FrontFace,
			CullMode:  desc.CullMode,
		},
		Multisample: gputypes.MultisampleState{
			Count: desc.SampleCount,
			Mask:  0xFFFFFFFF,
		},
	}
	if desc.DepthFormat != gputypes.TextureFormatUndefined {
		halDesc.DepthStencil = &hal.DepthStencilState{
			Format:            desc.DepthFormat,
			DepthWriteEnabled: desc.Blend == nil,
			DepthCompare:      gputypes.CompareFunctionLess,
		}
	}

	rp, err := d.device.CreateRenderPipeline(halDesc)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("native: create render pipeline: %w", err)
	}
	p.pipeline = rp
	return p, nil
}

// createBindGroupLayouts groups a merged binding signature by group
// index and creates one contiguous layout per group. Merged bindings are
// visible to both stages; per-stage precision is not worth diverging
// layouts that must be shared anyway.
func (d *halPipelineDevice) createBindGroupLayouts(label string, bindings []shader.Binding) ([]hal.BindGroupLayout, error) {
	var maxGroup uint32
	for _, b := range bindings {
		if b.Group > maxGroup {
			maxGroup = b.Group
		}
	}
	entriesPerGroup := make([][]gputypes.BindGroupLayoutEntry, maxGroup+1)
	for _, b := range bindings {
		entry := gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
		}
		switch b.Kind {
		case shader.BindingUniformBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case shader.BindingStorageBuffer:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		case shader.BindingTexture:
			entry.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		case shader.BindingSampler:
			entry.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
		default:
			return nil, fmt.Errorf("native: unknown binding kind %q", b.Kind)
		}
		entriesPerGroup[b.Group] = append(entriesPerGroup[b.Group], entry)
	}

	layouts := make([]hal.BindGroupLayout, 0, len(entriesPerGroup))
	for group, entries := range entriesPerGroup {
		layout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_group%d", label, group),
			Entries: entries,
		})
		if err != nil {
			for _, l := range layouts {
				d.device.DestroyBindGroupLayout(l)
			}
			return nil, fmt.Errorf("native: create bind group layout %d: %w", group, err)
		}
		layouts = append(layouts, layout)
	}
	return layouts, nil
}

// Flush submits nothing and waits on a fresh fence, draining the queue
// of work that may still reference live pipeline objects.
func (d *halPipelineDevice) Flush() error {
	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("native: submit fence: %w", err)
	}
	if _, err := d.device.Wait(fence, 1, flushTimeoutNs); err != nil {
		return fmt.Errorf("native: wait fence: %w", err)
	}
	return nil
}

// Close is a no-op; the owning Backend destroys the hal device.
func (d *halPipelineDevice) Close() error {
	return nil
}

// halPipeline bundles the hal objects backing one pipeline so Destroy
// can release them in dependency order.
type halPipeline struct {
	device         hal.Device
	pipeline       hal.RenderPipeline
	pipelineLayout hal.PipelineLayout
	bindLayouts    []hal.BindGroupLayout
	vertexModule   hal.ShaderModule
	fragmentModule hal.ShaderModule
}

// Destroy releases pipeline resources in the correct order.
func (p *halPipeline) Destroy() {
	if p.pipeline != nil {
		p.device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.pipelineLayout != nil {
		p.device.DestroyPipelineLayout(p.pipelineLayout)
		p.pipelineLayout = nil
	}
	for _, l := range p.bindLayouts {
		if l != nil {
			p.device.DestroyBindGroupLayout(l)
		}
	}
	p.bindLayouts = nil
	if p.vertexModule != nil {
		p.device.DestroyShaderModule(p.vertexModule)
		p.vertexModule = nil
	}
	if p.fragmentModule != nil {
		p.device.DestroyShaderModule(p.fragmentModule)
		p.fragmentModule = nil
	}
}

// spirvWords converts SPIR-V bytes to little-endian 32-bit words.
func spirvWords(bytecode []byte) []uint32 {
	words := make([]uint32, len(bytecode)/4)
	for i := range words {
		words[i] = uint32(bytecode[i*4]) |
			uint32(bytecode[i*4+1])<<8 |
			uint32(bytecode[i*4+2])<<16 |
			uint32(bytecode[i*4+3])<<24
	}
	return words
}
