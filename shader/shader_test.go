package shader

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

// stubCompiler produces deterministic fake bytecode derived from the
// source text and macro list, so different variants get different
// binaries without a real backend.
type stubCompiler struct {
	bindings []Binding
	compiles int
}

func (c *stubCompiler) Compile(req CompileRequest) (*CompiledProgram, *Diagnostic, error) {
	c.compiles++
	sum := sha256.Sum256([]byte(string(req.Source) + strings.Join(req.Macros, ",")))
	return &CompiledProgram{Bytecode: sum[:], Bindings: c.bindings}, nil, nil
}

// diagCompiler rejects every shader with a diagnostic.
type diagCompiler struct{}

func (diagCompiler) Compile(CompileRequest) (*CompiledProgram, *Diagnostic, error) {
	return nil, &Diagnostic{Message: "syntax error near fn"}, nil
}

// errCompiler fails every compile with an internal error.
type errCompiler struct{}

func (errCompiler) Compile(CompileRequest) (*CompiledProgram, *Diagnostic, error) {
	return nil, nil, errors.New("backend exploded")
}

func testDescription(t *testing.T, stage Stage, name string) *Description {
	t.Helper()
	dir := t.TempDir()
	src := writeSource(t, dir, name+".wgsl", "fn main() {}")
	return &Description{
		Name:       name,
		SourcePath: src,
		Stage:      stage,
		EntryPoint: "main",
	}
}

func TestCompileWritesCacheAndBytecode(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	comp := &stubCompiler{bindings: []Binding{
		{Group: 0, Binding: 0, Kind: BindingUniformBuffer, Name: "camera"},
	}}
	desc := testDescription(t, StageVertex, "basic.vs")
	cfg := NewConfiguration(FlagUseSkinning)

	s, diag, err := Compile(comp, store, desc.Name, cfg, desc)
	if err != nil || diag != nil {
		t.Fatalf("Compile: err=%v diag=%v", err, diag)
	}

	if want := desc.Name + cfg.TextForm(); s.Name() != want {
		t.Errorf("Name() = %q, want %q", s.Name(), want)
	}
	if !s.IsBytecodeLoaded() {
		t.Error("fresh compile must leave bytecode resident")
	}
	if len(s.Bindings()) != 1 {
		t.Errorf("bindings not carried: %v", s.Bindings())
	}

	// Cache files must be on disk and valid.
	meta, err := store.ReadMeta(desc.Name, cfg.TextForm())
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.EntryPoint != "main" || meta.Stage != "vertex" {
		t.Errorf("meta mismatch: %+v", meta)
	}
	if _, err := os.Stat(s.BytecodePath()); err != nil {
		t.Errorf("bytecode file missing: %v", err)
	}
}

func TestCompileDiagnosticCarriesVariantName(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageFragment, "broken.fs")
	cfg := NewConfiguration(FlagUseDiffuseTexture)

	s, diag, err := Compile(diagCompiler{}, store, desc.Name, cfg, desc)
	if err != nil || s != nil {
		t.Fatalf("want diagnostic only, got s=%v err=%v", s, err)
	}
	if diag == nil || diag.Name != desc.Name+cfg.TextForm() {
		t.Fatalf("diagnostic name = %v, want variant name", diag)
	}
}

func TestLoadFromCacheRoundTrip(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	comp := &stubCompiler{bindings: []Binding{
		{Group: 1, Binding: 0, Kind: BindingTexture, Name: "diffuse"},
	}}
	desc := testDescription(t, StageFragment, "lit.fs")
	cfg := NewConfiguration(FlagUseDiffuseTexture)

	compiled, _, err := Compile(comp, store, desc.Name, cfg, desc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	wantBytecode, _ := compiled.Bytecode()

	loaded, err := LoadFromCache(store, desc.Name, cfg, desc)
	if err != nil {
		t.Fatalf("LoadFromCache: %v", err)
	}
	if loaded.IsBytecodeLoaded() {
		t.Error("cache load must not eagerly load bytecode")
	}
	got, err := loaded.Bytecode()
	if err != nil {
		t.Fatalf("Bytecode: %v", err)
	}
	if string(got) != string(wantBytecode) {
		t.Error("bytecode differs from compiled original")
	}
	if len(loaded.Bindings()) != 1 || loaded.Bindings()[0].Name != "diffuse" {
		t.Errorf("bindings not restored from meta: %v", loaded.Bindings())
	}
}

func TestLoadFromCacheDetectsSourceChange(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageVertex, "mut.vs")
	cfg := Configuration{}

	if _, _, err := Compile(&stubCompiler{}, store, desc.Name, cfg, desc); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// Mutate one byte of the source.
	if err := os.WriteFile(desc.SourcePath, []byte("fn main() {} "), 0o644); err != nil {
		t.Fatalf("rewrite source: %v", err)
	}

	_, err := LoadFromCache(store, desc.Name, cfg, desc)
	var ce *CacheError
	if !errors.As(err, &ce) {
		t.Fatalf("want *CacheError, got %v", err)
	}
	if ce.Reason != InvalidationSourceChanged {
		t.Errorf("reason = %s, want %s", ce.Reason, InvalidationSourceChanged)
	}
}

func TestLoadFromCacheDetectsIncludeChange(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "common.wgsl", "const A = 1;")
	src := writeSource(t, dir, "main.wgsl", "#include \"common.wgsl\"\nfn main() {}")
	desc := &Description{Name: "inc.vs", SourcePath: src, Stage: StageVertex, EntryPoint: "main"}
	store := NewCacheStore(t.TempDir())

	if _, _, err := Compile(&stubCompiler{}, store, desc.Name, Configuration{}, desc); err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// One byte in the included file only; the top-level source is untouched.
	writeSource(t, dir, "common.wgsl", "const A = 2;")

	_, err := LoadFromCache(store, desc.Name, Configuration{}, desc)
	var ce *CacheError
	if !errors.As(err, &ce) {
		t.Fatalf("want *CacheError, got %v", err)
	}
	if ce.Reason != InvalidationIncludeTreeChanged {
		t.Errorf("reason = %s, want %s", ce.Reason, InvalidationIncludeTreeChanged)
	}
}

func TestBytecodeReleaseAndReload(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageVertex, "res.vs")

	s, _, err := Compile(&stubCompiler{}, store, desc.Name, Configuration{}, desc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	before := ResidentShaderCount()
	if !s.ReleaseBytecode() {
		t.Fatal("release of resident bytecode must report true")
	}
	if s.ReleaseBytecode() {
		t.Error("double release must report false")
	}
	if got := ResidentShaderCount(); got != before-1 {
		t.Errorf("resident count = %d, want %d", got, before-1)
	}

	// Lazy reload from the cache file.
	data, err := s.Bytecode()
	if err != nil {
		t.Fatalf("Bytecode after release: %v", err)
	}
	if len(data) == 0 {
		t.Error("reloaded bytecode empty")
	}
	if !s.IsBytecodeLoaded() {
		t.Error("bytecode must be resident after reload")
	}
	s.ReleaseBytecode()
}

func TestInternalErrorBreadcrumbs(t *testing.T) {
	err := LocateInternal(fmt.Errorf("root cause"), "inner")
	err = LocateInternal(err, "outer")

	msg := err.Error()
	if !strings.Contains(msg, "root cause") {
		t.Errorf("cause missing: %s", msg)
	}
	// Most recent location first.
	if strings.Index(msg, "outer") > strings.Index(msg, "inner") {
		t.Errorf("breadcrumbs not most-recent-first:\n%s", msg)
	}

	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatal("LocateInternal must preserve the InternalError type")
	}
}
