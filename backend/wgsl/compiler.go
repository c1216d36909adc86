package wgsl

import (
	"strings"

	"github.com/gogpu/naga"

	"github.com/gogpu/vortex/shader"
)

// Compiler translates WGSL to SPIR-V through naga. Safe for concurrent
// use; each Compile call is independent.
type Compiler struct{}

// NewCompiler creates a WGSL compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

var _ shader.Compiler = (*Compiler)(nil)

// Compile preprocesses, reflects and compiles one shader variant.
// Source faults (bad directives, naga rejection) come back as a
// diagnostic; everything else is an internal error.
func (c *Compiler) Compile(req shader.CompileRequest) (*shader.CompiledProgram, *shader.Diagnostic, error) {
	translated, diag, err := Preprocess(req.SourcePath, req.Source, req.Macros)
	if err != nil {
		return nil, nil, shader.LocateInternal(err, "wgsl.Compiler preprocess")
	}
	if diag != nil {
		return nil, diag, nil
	}

	bindings, err := ReflectBindings(translated)
	if err != nil {
		// A declaration the reflector cannot classify is a source fault.
		return nil, &shader.Diagnostic{Message: err.Error()}, nil
	}

	spirv, err := naga.Compile(translated)
	if err != nil {
		// naga reports source-level problems as errors; unless the input
		// was empty (engine fault) the shader author is the audience.
		if strings.TrimSpace(translated) == "" {
			return nil, nil, shader.Internalf("wgsl.Compiler: empty translated source for %s", req.SourcePath)
		}
		return nil, &shader.Diagnostic{Message: err.Error()}, nil
	}

	return &shader.CompiledProgram{
		Bytecode: spirv,
		Bindings: bindings,
	}, nil, nil
}
