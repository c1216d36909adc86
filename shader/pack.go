package shader

import (
	"fmt"
	"sync"
)

// Pack owns every compiled variant of one logical shader, keyed by
// configuration hash, and serves the variant matching the current
// renderer configuration plus any per-material extra flags.
//
// One mutex guards the variant map, the renderer configuration and the
// last-resolved shader together, so a resolve can never observe a
// half-switched configuration.
type Pack struct {
	name  string
	stage Stage

	mu           sync.Mutex
	variants     map[uint64]*Shader
	rendererCfg  Configuration
	lastResolved *Shader
}

// CompilePack compiles every configuration in the stage's valid registry.
// All-or-nothing: a diagnostic or error for any single variant fails the
// whole pack, so a pack either exists complete or not at all.
func CompilePack(c Compiler, store *CacheStore, desc *Description) (*Pack, *Diagnostic, error) {
	p := &Pack{
		name:     desc.Name,
		stage:    desc.Stage,
		variants: make(map[uint64]*Shader),
	}
	for _, cfg := range ValidConfigurations(desc.Stage) {
		s, diag, err := Compile(c, store, desc.Name, cfg, desc)
		if err != nil {
			return nil, nil, LocateInternal(err, fmt.Sprintf("CompilePack(%s) configuration %s", desc.Name, cfg))
		}
		if diag != nil {
			return nil, diag, nil
		}
		p.variants[cfg.Hash()] = s
		// Only the eventually-resolved variant needs to stay resident.
		s.ReleaseBytecode()
	}
	logger().Info("compiled shader pack",
		"shader", desc.Name, "stage", desc.Stage.String(), "variants", len(p.variants))
	return p, nil, nil
}

// LoadPackFromCache loads every variant of a pack from the cache store.
// If any variant fails validation the shader's whole cache directory is
// purged and the load fails; a pack is never assembled from a mix of
// valid and stale variants.
func LoadPackFromCache(store *CacheStore, desc *Description) (*Pack, error) {
	p := &Pack{
		name:     desc.Name,
		stage:    desc.Stage,
		variants: make(map[uint64]*Shader),
	}
	for _, cfg := range ValidConfigurations(desc.Stage) {
		s, err := LoadFromCache(store, desc.Name, cfg, desc)
		if err != nil {
			if purgeErr := store.Purge(desc.Name); purgeErr != nil {
				logger().Warn("failed to purge invalid shader cache",
					"shader", desc.Name, "error", purgeErr)
			}
			return nil, LocateInternal(err, fmt.Sprintf("LoadPackFromCache(%s) configuration %s", desc.Name, cfg))
		}
		p.variants[cfg.Hash()] = s
	}
	logger().Info("loaded shader pack from cache",
		"shader", desc.Name, "stage", desc.Stage.String(), "variants", len(p.variants))
	return p, nil
}

// Name returns the logical shader name.
func (p *Pack) Name() string {
	return p.name
}

// Stage returns the pipeline stage of every variant in the pack.
func (p *Pack) Stage() Stage {
	return p.stage
}

// VariantCount returns the number of compiled variants.
func (p *Pack) VariantCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.variants)
}

// RendererConfiguration returns the pack's current renderer configuration.
func (p *Pack) RendererConfiguration() Configuration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rendererCfg
}

// Resolve combines the pack's renderer configuration with additional
// per-material flags and returns the matching variant.
//
// Every flag from either source is filtered through IsFlagRelevant
// against the full requested set, so irrelevant requests (a filtering
// mode on a shader that samples no texture) are dropped instead of
// producing a lookup miss.
//
// Resolve panics when additional shares a flag with the renderer
// configuration: the two flag sources must be disjoint by construction
// and an overlap is a caller bug. A merged set absent from the variant
// map is an InternalError, never a silent fallback: the valid-
// configuration registry and the pack enumeration must stay in sync.
func (p *Pack) Resolve(additional Configuration) (*Shader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rendererCfg.Intersects(additional) {
		panic(fmt.Sprintf(
			"shader: Pack(%s).Resolve: additional configuration %s overlaps renderer configuration %s",
			p.name, additional, p.rendererCfg))
	}

	requested := p.rendererCfg.Union(additional)
	var merged Configuration
	for _, f := range requested.Flags() {
		if IsFlagRelevant(f, requested) {
			merged = merged.With(f)
		}
	}

	s, ok := p.variants[merged.Hash()]
	if !ok {
		return nil, Internalf(
			"Pack(%s).Resolve: no variant for configuration %s; registry and pack are out of sync",
			p.name, merged)
	}
	if p.lastResolved != nil && p.lastResolved != s {
		// Best effort: the previously selected variant's bytecode is no
		// longer needed once a different variant takes over.
		if p.lastResolved.ReleaseBytecode() {
			logger().Debug("evicted previous shader variant bytecode",
				"shader", p.lastResolved.Name())
		}
	}
	p.lastResolved = s
	return s, nil
}

// SetRendererConfiguration switches the pack to a new global renderer
// configuration, called when rendering settings that map to shader flags
// change. The previously resolved variant's bytecode is evicted best
// effort; failure to free (another owner may be reading it) is logged,
// not fatal.
func (p *Pack) SetRendererConfiguration(cfg Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rendererCfg.Equal(cfg) {
		return
	}
	if p.lastResolved != nil {
		if !p.lastResolved.ReleaseBytecode() {
			logger().Warn("previous shader variant bytecode not resident during configuration switch",
				"shader", p.lastResolved.Name())
		}
		p.lastResolved = nil
	}
	p.rendererCfg = cfg
	logger().Debug("shader pack renderer configuration changed",
		"shader", p.name, "configuration", cfg.String())
}

// ReleaseAllBytecode drops every variant's in-memory bytecode. Used when
// a pack is removed from the manager while other references keep the Go
// objects alive.
func (p *Pack) ReleaseAllBytecode() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.variants {
		s.ReleaseBytecode()
	}
	p.lastResolved = nil
}

// variantByHash returns the variant stored under the given configuration
// hash. Test hook and self-validation helper.
func (p *Pack) variantByHash(h uint64) (*Shader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.variants[h]
	return s, ok
}
