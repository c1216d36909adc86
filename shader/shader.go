package shader

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// BindingKind classifies a shader resource binding.
type BindingKind string

const (
	// BindingUniformBuffer is a uniform (constant) buffer binding.
	BindingUniformBuffer BindingKind = "uniform"

	// BindingStorageBuffer is a read or read-write storage buffer binding.
	BindingStorageBuffer BindingKind = "storage"

	// BindingTexture is a sampled texture binding.
	BindingTexture BindingKind = "texture"

	// BindingSampler is a sampler binding.
	BindingSampler BindingKind = "sampler"
)

// Binding describes one bound resource declared by a shader, extracted
// by the backend compiler's reflection pass and persisted to the cache so
// signature generation works in cache-only (shipped) builds too.
type Binding struct {
	Group   uint32      `toml:"group"`
	Binding uint32      `toml:"binding"`
	Kind    BindingKind `toml:"kind"`
	Name    string      `toml:"name"`
}

// CompileRequest is the input to a backend Compiler.
type CompileRequest struct {
	// SourcePath locates the shader source on disk. The compiler resolves
	// include directives relative to it.
	SourcePath string

	// Source is the raw source text. Passed alongside the path so the
	// compiler never re-reads a file the caller already hashed.
	Source []byte

	// EntryPoint is the entry function name.
	EntryPoint string

	// Stage selects the pipeline stage being compiled.
	Stage Stage

	// Macros are the preprocessor defines for this variant, in canonical
	// order: the configuration's macro names plus any extra defines from
	// the description.
	Macros []string
}

// CompiledProgram is the output of a successful backend compile.
type CompiledProgram struct {
	// Bytecode is the compiled shader binary (SPIR-V for the WGSL backend).
	Bytecode []byte

	// Bindings is the reflected resource-binding table.
	Bindings []Binding
}

// Compiler is the backend shader compiler collaborator. Compile returns a
// three-way result: a program on success, a *Diagnostic when the shader
// source itself is at fault, or an error when the engine or its backend
// is broken. Exactly one of the three is non-nil.
type Compiler interface {
	Compile(req CompileRequest) (*CompiledProgram, *Diagnostic, error)
}

// Description identifies one logical shader program to compile or load:
// where its source lives, which stage it targets, how to enter it, and
// any extra preprocessor defines beyond the configuration flags.
type Description struct {
	// Name is the globally-unique shader name. Restricted to letters,
	// digits, '.', '_' and '-' so it is safe as a directory name on every
	// platform the cache can land on.
	Name string

	// SourcePath is the path to the shader source file.
	SourcePath string

	// Stage is the pipeline stage.
	Stage Stage

	// VertexFormat optionally tags the vertex layout this shader expects.
	// Empty for non-vertex shaders.
	VertexFormat string

	// EntryPoint is the entry function name.
	EntryPoint string

	// ExtraMacros are additional preprocessor defines (name → value)
	// merged with the configuration flags for every variant.
	ExtraMacros map[string]string
}

// forConfiguration derives the per-variant description: the name gains
// the configuration text suffix and the macro list gains the flags.
func (d *Description) forConfiguration(cfg Configuration) Description {
	out := *d
	if text := cfg.TextForm(); text != "" {
		out.Name = d.Name + text
	}
	return out
}

// macroList merges configuration flag names with extra macros into the
// canonical list handed to the compiler and stored in cache metadata.
func (d *Description) macroList(cfg Configuration) []string {
	macros := cfg.MacroNames()
	for name, value := range d.ExtraMacros {
		if value == "" {
			macros = append(macros, name)
		} else {
			macros = append(macros, name+"="+value)
		}
	}
	return macros
}

// residentShaders counts shaders whose bytecode is currently held in
// memory, process-wide. Observability only: it feeds memory-pressure
// logging, never correctness decisions.
var residentShaders atomic.Int64

// ResidentShaderCount returns the number of shaders with bytecode
// currently resident in memory across the whole process.
func ResidentShaderCount() int64 {
	return residentShaders.Load()
}

// Shader is one compiled variant (one configuration) of one logical
// shader. Bytecode is loaded lazily from the cache file on first access
// and can be released when the variant is not selected; it is always
// either fully loaded or fully absent.
type Shader struct {
	name         string
	stage        Stage
	vertexFormat string
	entryPoint   string
	bytecodePath string
	bindings     []Binding

	mu       sync.Mutex
	bytecode []byte
}

// Compile compiles one variant from source through the backend compiler
// and persists bytecode plus metadata to the cache store. The three-way
// result mirrors Compiler.Compile.
func Compile(c Compiler, store *CacheStore, baseName string, cfg Configuration, desc *Description) (*Shader, *Diagnostic, error) {
	variant := desc.forConfiguration(cfg)
	macros := desc.macroList(cfg)

	source, err := os.ReadFile(desc.SourcePath)
	if err != nil {
		return nil, nil, LocateInternal(err, "shader.Compile read source")
	}
	program, diag, err := c.Compile(CompileRequest{
		SourcePath: desc.SourcePath,
		Source:     source,
		EntryPoint: desc.EntryPoint,
		Stage:      desc.Stage,
		Macros:     macros,
	})
	if err != nil {
		return nil, nil, LocateInternal(err, "shader.Compile backend")
	}
	if diag != nil {
		diag.Name = variant.Name
		return nil, diag, nil
	}

	meta, err := liveMeta(desc, macros)
	if err != nil {
		return nil, nil, LocateInternal(err, "shader.Compile meta")
	}
	meta.Bindings = program.Bindings
	cfgText := cfg.TextForm()
	if err := store.WriteVariant(baseName, cfgText, program.Bytecode, meta); err != nil {
		return nil, nil, LocateInternal(err, "shader.Compile cache write")
	}

	logger().Debug("compiled shader variant",
		"shader", variant.Name, "stage", desc.Stage.String(), "configuration", cfg.String(),
		"bytecode_bytes", len(program.Bytecode))

	s := &Shader{
		name:         variant.Name,
		stage:        desc.Stage,
		vertexFormat: desc.VertexFormat,
		entryPoint:   desc.EntryPoint,
		bytecodePath: store.BytecodePath(baseName, cfgText),
		bindings:     program.Bindings,
	}
	s.setBytecode(program.Bytecode)
	return s, nil, nil
}

// LoadFromCache creates a variant from previously cached bytecode. The
// stored metadata is validated against freshly computed hashes first;
// unchecked bytecode is never trusted. On invalidation a *CacheError is
// returned and the caller is expected to purge the shader's cache
// directory.
func LoadFromCache(store *CacheStore, baseName string, cfg Configuration, desc *Description) (*Shader, error) {
	variant := desc.forConfiguration(cfg)
	cfgText := cfg.TextForm()

	stored, err := store.ReadMeta(baseName, cfgText)
	if err != nil {
		return nil, LocateInternal(err, "shader.LoadFromCache meta")
	}
	live, err := liveMeta(desc, desc.macroList(cfg))
	if err != nil {
		return nil, LocateInternal(err, "shader.LoadFromCache live meta")
	}
	bcPath := store.BytecodePath(baseName, cfgText)
	if reason := ValidateCacheMeta(stored, live, bcPath); reason != nil {
		return nil, &CacheError{Name: variant.Name, Reason: *reason}
	}

	return &Shader{
		name:         variant.Name,
		stage:        desc.Stage,
		vertexFormat: desc.VertexFormat,
		entryPoint:   desc.EntryPoint,
		bytecodePath: bcPath,
		bindings:     stored.Bindings,
	}, nil
}

// Name returns the variant's full name (base name + configuration suffix).
func (s *Shader) Name() string {
	return s.name
}

// Stage returns the pipeline stage.
func (s *Shader) Stage() Stage {
	return s.stage
}

// VertexFormat returns the vertex format tag, or "" when not set.
func (s *Shader) VertexFormat() string {
	return s.vertexFormat
}

// EntryPoint returns the entry function name.
func (s *Shader) EntryPoint() string {
	return s.entryPoint
}

// Bindings returns the reflected resource bindings of this variant.
// The returned slice must not be modified.
func (s *Shader) Bindings() []Binding {
	return s.bindings
}

// BytecodePath returns the on-disk location of the compiled bytecode.
func (s *Shader) BytecodePath() string {
	return s.bytecodePath
}

// Bytecode returns the compiled shader binary, loading it from disk on
// first call. Callers must not modify the returned slice.
func (s *Shader) Bytecode() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytecode != nil {
		return s.bytecode, nil
	}
	data, err := os.ReadFile(s.bytecodePath)
	if err != nil {
		return nil, LocateInternal(err, fmt.Sprintf("Shader(%s).Bytecode", s.name))
	}
	s.bytecode = data
	residentShaders.Add(1)
	logger().Debug("loaded shader bytecode",
		"shader", s.name, "bytes", len(data), "resident_shaders", ResidentShaderCount())
	return s.bytecode, nil
}

// IsBytecodeLoaded reports whether the bytecode is currently resident.
func (s *Shader) IsBytecodeLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytecode != nil
}

// ReleaseBytecode drops the in-memory bytecode buffer and reports whether
// anything was actually freed. The bytecode remains available on disk and
// will be reloaded lazily if needed again.
func (s *Shader) ReleaseBytecode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytecode == nil {
		return false
	}
	s.bytecode = nil
	residentShaders.Add(-1)
	return true
}

// setBytecode installs an already-loaded buffer (fresh compile result) so
// the first Bytecode call needs no disk read.
func (s *Shader) setBytecode(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bytecode == nil {
		residentShaders.Add(1)
	}
	s.bytecode = data
}
