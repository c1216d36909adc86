package wgsl

import (
	"testing"

	"github.com/gogpu/vortex/shader"
)

const reflectSource = `
struct Camera { mvp: mat4x4<f32> }

@group(0) @binding(0) var<uniform> camera: Camera;
@group(1) @binding(1) var diffuseSampler: sampler;
@group(1) @binding(0) var diffuseTexture: texture_2d<f32>;
@group(2) @binding(0) var<storage, read> bones: array<mat4x4<f32>>;

@vertex
fn vs_main() -> @builtin(position) vec4<f32> {
	return vec4<f32>(0.0);
}
`

func TestReflectBindings(t *testing.T) {
	bindings, err := ReflectBindings(reflectSource)
	if err != nil {
		t.Fatalf("ReflectBindings: %v", err)
	}

	want := []shader.Binding{
		{Group: 0, Binding: 0, Kind: shader.BindingUniformBuffer, Name: "camera"},
		{Group: 1, Binding: 0, Kind: shader.BindingTexture, Name: "diffuseTexture"},
		{Group: 1, Binding: 1, Kind: shader.BindingSampler, Name: "diffuseSampler"},
		{Group: 2, Binding: 0, Kind: shader.BindingStorageBuffer, Name: "bones"},
	}
	if len(bindings) != len(want) {
		t.Fatalf("got %d bindings, want %d: %v", len(bindings), len(want), bindings)
	}
	for i, w := range want {
		if bindings[i] != w {
			t.Errorf("binding %d: got %+v, want %+v", i, bindings[i], w)
		}
	}
}

func TestReflectIgnoresComments(t *testing.T) {
	src := `
// @group(0) @binding(0) var<uniform> commented: Camera;
/*
@group(0) @binding(1) var blockCommented: sampler;
*/
@group(0) @binding(2) var real: sampler;
`
	bindings, err := ReflectBindings(src)
	if err != nil {
		t.Fatalf("ReflectBindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Name != "real" {
		t.Fatalf("commented declarations leaked: %v", bindings)
	}
}

func TestReflectUnknownType(t *testing.T) {
	_, err := ReflectBindings(`@group(0) @binding(0) var weird: my_custom_handle;`)
	if err == nil {
		t.Fatal("expected classification error")
	}
}

func TestReflectEmptySource(t *testing.T) {
	bindings, err := ReflectBindings("fn fs_main() {}")
	if err != nil {
		t.Fatalf("ReflectBindings: %v", err)
	}
	if len(bindings) != 0 {
		t.Fatalf("expected no bindings, got %v", bindings)
	}
}

func TestClassifyBinding(t *testing.T) {
	tests := []struct {
		space, typ string
		want       shader.BindingKind
	}{
		{"uniform", "Camera", shader.BindingUniformBuffer},
		{"storage, read", "array<f32>", shader.BindingStorageBuffer},
		{"storage, read_write", "array<f32>", shader.BindingStorageBuffer},
		{"", "texture_2d<f32>", shader.BindingTexture},
		{"", "texture_cube<f32>", shader.BindingTexture},
		{"", "sampler", shader.BindingSampler},
		{"", "sampler_comparison", shader.BindingSampler},
	}
	for _, tt := range tests {
		got, err := classifyBinding(tt.space, tt.typ)
		if err != nil {
			t.Errorf("classifyBinding(%q, %q): %v", tt.space, tt.typ, err)
			continue
		}
		if got != tt.want {
			t.Errorf("classifyBinding(%q, %q) = %s, want %s", tt.space, tt.typ, got, tt.want)
		}
	}
}
