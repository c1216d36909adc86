package wgsl

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gogpu/vortex/shader"
)

// bindGroupDeclRegex captures group, binding, optional address space,
// variable name and type from declarations like
//
//	@group(0) @binding(0) var<uniform> camera: CameraUniform;
//	@group(2) @binding(0) var diffuseTexture: texture_2d<f32>;
var bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)

// blockCommentRegex strips /* */ comments before reflection.
var blockCommentRegex = regexp.MustCompile(`(?s)/\*.*?\*/`)

// ReflectBindings extracts the resource-binding table from flattened
// WGSL source. Declarations are returned sorted by group then binding.
func ReflectBindings(source string) ([]shader.Binding, error) {
	cleaned := stripComments(source)

	var bindings []shader.Binding
	for _, m := range bindGroupDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wgsl: bad group index %q: %w", m[1], err)
		}
		binding, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("wgsl: bad binding index %q: %w", m[2], err)
		}
		kind, err := classifyBinding(m[3], m[5])
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, shader.Binding{
			Group:   uint32(group),
			Binding: uint32(binding),
			Kind:    kind,
			Name:    m[4],
		})
	}

	slices.SortFunc(bindings, func(a, b shader.Binding) int {
		if a.Group != b.Group {
			return int(a.Group) - int(b.Group)
		}
		return int(a.Binding) - int(b.Binding)
	})
	return bindings, nil
}

// classifyBinding maps a var<> address space and WGSL type to a binding
// kind. Handle types (textures, samplers) carry no address space.
func classifyBinding(addressSpace, wgslType string) (shader.BindingKind, error) {
	space := strings.TrimSpace(addressSpace)
	switch {
	case space == "uniform":
		return shader.BindingUniformBuffer, nil
	case strings.HasPrefix(space, "storage"):
		return shader.BindingStorageBuffer, nil
	case space != "":
		return "", fmt.Errorf("wgsl: unsupported address space %q", space)
	}

	typeName := strings.TrimSpace(wgslType)
	switch {
	case strings.HasPrefix(typeName, "texture_"):
		return shader.BindingTexture, nil
	case typeName == "sampler" || typeName == "sampler_comparison":
		return shader.BindingSampler, nil
	}
	return "", fmt.Errorf("wgsl: cannot classify binding type %q", typeName)
}

// stripComments removes line and block comments so commented-out
// declarations do not leak into the binding table.
func stripComments(source string) string {
	source = blockCommentRegex.ReplaceAllString(source, "")
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "//"); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
