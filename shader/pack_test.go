package shader

import (
	"errors"
	"os"
	"testing"
)

func compileTestPack(t *testing.T, stage Stage, name string) (*Pack, *CacheStore) {
	t.Helper()
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, stage, name)
	pack, diag, err := CompilePack(&stubCompiler{}, store, desc)
	if err != nil || diag != nil {
		t.Fatalf("CompilePack: err=%v diag=%v", err, diag)
	}
	return pack, store
}

func TestCompilePackCoversRegistry(t *testing.T) {
	pack, _ := compileTestPack(t, StageFragment, "full.fs")
	if got, want := pack.VariantCount(), len(ValidConfigurations(StageFragment)); got != want {
		t.Errorf("VariantCount() = %d, want %d", got, want)
	}

	// Variants are compiled-then-released; none should be resident.
	for _, cfg := range ValidConfigurations(StageFragment) {
		s, ok := pack.variantByHash(cfg.Hash())
		if !ok {
			t.Fatalf("missing variant for %v", cfg)
		}
		if s.IsBytecodeLoaded() {
			t.Errorf("variant %s resident after pack compile", s.Name())
		}
	}
}

func TestCompilePackAllOrNothing(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageFragment, "bad.fs")

	pack, diag, err := CompilePack(diagCompiler{}, store, desc)
	if pack != nil || err != nil {
		t.Fatalf("want diagnostic only, got pack=%v err=%v", pack, err)
	}
	if diag == nil {
		t.Fatal("expected diagnostic")
	}
}

func TestCompilePackInternalError(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageVertex, "boom.vs")

	pack, diag, err := CompilePack(errCompiler{}, store, desc)
	if pack != nil || diag != nil {
		t.Fatalf("want error only, got pack=%v diag=%v", pack, diag)
	}
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatalf("want *InternalError, got %v", err)
	}
}

func TestLoadPackFromCachePurgesOnInvalid(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageVertex, "stale.vs")
	if _, _, err := CompilePack(&stubCompiler{}, store, desc); err != nil {
		t.Fatalf("CompilePack: %v", err)
	}

	// Invalidate one variant by changing the entry point.
	desc.EntryPoint = "vs_main"

	if _, err := LoadPackFromCache(store, desc); err == nil {
		t.Fatal("stale cache must fail the load")
	}
	// The whole directory must be gone, not just the offending variant.
	if _, err := os.Stat(store.ShaderDir(desc.Name)); !os.IsNotExist(err) {
		t.Error("stale cache directory not purged")
	}
}

func TestLoadPackFromCacheRoundTrip(t *testing.T) {
	store := NewCacheStore(t.TempDir())
	desc := testDescription(t, StageVertex, "warm.vs")
	if _, _, err := CompilePack(&stubCompiler{}, store, desc); err != nil {
		t.Fatalf("CompilePack: %v", err)
	}

	pack, err := LoadPackFromCache(store, desc)
	if err != nil {
		t.Fatalf("LoadPackFromCache: %v", err)
	}
	if got, want := pack.VariantCount(), len(ValidConfigurations(StageVertex)); got != want {
		t.Errorf("VariantCount() = %d, want %d", got, want)
	}
}

func TestResolveExactVariant(t *testing.T) {
	pack, _ := compileTestPack(t, StageFragment, "resolve.fs")

	s, err := pack.Resolve(NewConfiguration(FlagUseDiffuseTexture))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want, _ := pack.variantByHash(NewConfiguration(FlagUseDiffuseTexture).Hash())
	if s != want {
		t.Error("resolve returned wrong variant")
	}
}

func TestResolveDropsIrrelevantFlags(t *testing.T) {
	pack, _ := compileTestPack(t, StageFragment, "irrel.fs")
	pack.SetRendererConfiguration(NewConfiguration(FlagTextureFilteringLinear))

	// No diffuse texture requested: the filtering flag must be dropped and
	// the default variant selected.
	s, err := pack.Resolve(Configuration{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	def, _ := pack.variantByHash(0)
	if s != def {
		t.Errorf("got %s, want default variant", s.Name())
	}

	// With the diffuse texture the filtering flag becomes relevant.
	s, err = pack.Resolve(NewConfiguration(FlagUseDiffuseTexture))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := NewConfiguration(FlagUseDiffuseTexture, FlagTextureFilteringLinear)
	filtered, _ := pack.variantByHash(want.Hash())
	if s != filtered {
		t.Errorf("got %s, want filtered variant", s.Name())
	}
}

func TestResolvePanicsOnOverlap(t *testing.T) {
	pack, _ := compileTestPack(t, StageFragment, "overlap.fs")
	pack.SetRendererConfiguration(NewConfiguration(FlagTextureFilteringLinear))

	defer func() {
		if recover() == nil {
			t.Error("overlapping configurations must panic")
		}
	}()
	_, _ = pack.Resolve(NewConfiguration(FlagTextureFilteringLinear))
}

func TestResolveNoMatchIsInternalError(t *testing.T) {
	pack, _ := compileTestPack(t, StageVertex, "miss.vs")

	// The vertex registry has no diffuse-texture variant.
	_, err := pack.Resolve(NewConfiguration(FlagUseDiffuseTexture))
	var ie *InternalError
	if !errors.As(err, &ie) {
		t.Fatalf("want *InternalError, got %v", err)
	}
}

func TestResolveEvictsPreviousVariant(t *testing.T) {
	pack, _ := compileTestPack(t, StageVertex, "evict.vs")

	def, err := pack.Resolve(Configuration{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := def.Bytecode(); err != nil {
		t.Fatalf("Bytecode: %v", err)
	}

	skinned, err := pack.Resolve(NewConfiguration(FlagUseSkinning))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.IsBytecodeLoaded() {
		t.Error("previous variant bytecode not evicted")
	}
	if skinned == def {
		t.Error("resolve returned the previous variant")
	}
}

func TestSetRendererConfigurationSwitchesSelection(t *testing.T) {
	pack, _ := compileTestPack(t, StageFragment, "switch.fs")

	before, err := pack.Resolve(NewConfiguration(FlagUseDiffuseTexture))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pack.SetRendererConfiguration(NewConfiguration(FlagTextureFilteringAnisotropic))
	after, err := pack.Resolve(NewConfiguration(FlagUseDiffuseTexture))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if before == after {
		t.Error("configuration switch must change the selected variant")
	}
}

func TestReleaseAllBytecode(t *testing.T) {
	pack, _ := compileTestPack(t, StageVertex, "relall.vs")
	s, _ := pack.Resolve(Configuration{})
	if _, err := s.Bytecode(); err != nil {
		t.Fatalf("Bytecode: %v", err)
	}

	pack.ReleaseAllBytecode()
	if s.IsBytecodeLoaded() {
		t.Error("bytecode still resident after ReleaseAllBytecode")
	}
}
