// Package vortex manages GPU shader variants and pipeline state for a
// 3D renderer.
//
// # Overview
//
// vortex compiles WGSL shaders into per-configuration variants, caches
// the compiled bytecode on disk with content-hash invalidation, and
// builds pipeline state objects (PSOs) from resolved shader pairs.
// Materials hold reference-counted handles to PSOs; when rendering
// settings change, backend pipeline state is rebuilt lazily while the
// identities materials hold on to stay valid.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/vortex"
//		_ "github.com/gogpu/vortex/backend/native"
//	)
//
//	r, err := vortex.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer r.Close()
//
//	err = r.Shaders().CompileShaders(descs, callbacks)
//	// ... per frame:
//	r.Update()
//
// # Architecture
//
// The library is organized into:
//   - shader: configuration algebra, on-disk cache, variant packs,
//     async batch compilation
//   - pipeline: PSO construction, reference counting, settings rebuild
//   - material: the user-facing surface tying shaders to PSO handles
//   - backend: graphics backends (native GPU via gogpu/wgpu, null for
//     headless use)
//   - config: persisted engine settings (TOML)
package vortex
