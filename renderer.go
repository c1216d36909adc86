package vortex

import (
	"fmt"

	"github.com/gogpu/vortex/backend"
	"github.com/gogpu/vortex/config"
	"github.com/gogpu/vortex/pipeline"
	"github.com/gogpu/vortex/shader"
)

// Renderer ties a graphics backend, the shader variant manager and the
// pipeline manager together under one settings surface. It is the
// top-level entry point of the subsystem.
type Renderer struct {
	backend   backend.GraphicsBackend
	settings  config.Settings
	baseDir   string
	paths     *config.Paths
	shaders   *shader.Manager
	pipelines *pipeline.Manager
}

// Option configures a Renderer during New.
type Option func(*rendererOptions)

type rendererOptions struct {
	backendName string
	baseDir     string
	settings    *config.Settings
}

// WithBackend selects a registered backend by name instead of the
// default priority order.
func WithBackend(name string) Option {
	return func(o *rendererOptions) { o.backendName = name }
}

// WithBaseDir sets the directory relative paths in settings resolve
// against. Defaults to the current directory.
func WithBaseDir(dir string) Option {
	return func(o *rendererOptions) { o.baseDir = dir }
}

// WithSettings supplies settings directly instead of loading defaults.
func WithSettings(s config.Settings) Option {
	return func(o *rendererOptions) { o.settings = &s }
}

// New initializes a backend and builds the shader and pipeline managers
// on top of it. The returned renderer owns the backend and releases it
// on Close.
func New(opts ...Option) (*Renderer, error) {
	var o rendererOptions
	for _, opt := range opts {
		opt(&o)
	}

	settings := config.Default()
	if o.settings != nil {
		settings = *o.settings
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var b backend.GraphicsBackend
	if o.backendName != "" {
		b = backend.Get(o.backendName)
		if b == nil {
			return nil, fmt.Errorf("vortex: backend %q: %w", o.backendName, backend.ErrBackendNotAvailable)
		}
		if err := b.Init(); err != nil {
			return nil, err
		}
	} else {
		var err error
		b, err = backend.InitDefault()
		if err != nil {
			return nil, err
		}
	}

	paths := config.NewPaths(o.baseDir, settings)
	store := shader.NewCacheStore(paths.CacheRoot())
	shaders := shader.NewManager(b.Compiler(), store,
		shader.WithSelfValidationInterval(settings.SelfValidationInterval))

	pipelines, err := pipeline.NewManager(b.Device(), shaders)
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := pipelines.SetGlobalConfiguration(filteringConfiguration(settings.TextureFiltering)); err != nil {
		b.Close()
		return nil, err
	}

	Logger().Info("vortex: initialized", "backend", b.Name(), "cache", store.Root())
	return &Renderer{
		backend:   b,
		settings:  settings,
		baseDir:   o.baseDir,
		paths:     paths,
		shaders:   shaders,
		pipelines: pipelines,
	}, nil
}

// Shaders returns the shader variant manager.
func (r *Renderer) Shaders() *shader.Manager { return r.shaders }

// Pipelines returns the pipeline state manager.
func (r *Renderer) Pipelines() *pipeline.Manager { return r.pipelines }

// Backend returns the active graphics backend.
func (r *Renderer) Backend() backend.GraphicsBackend { return r.backend }

// Paths returns the path resolver for the active settings.
func (r *Renderer) Paths() *config.Paths { return r.paths }

// Settings returns a copy of the active settings.
func (r *Renderer) Settings() config.Settings { return r.settings }

// ApplySettings activates new settings. A texture filtering change
// tears down backend pipeline state and switches every shader pack to
// the new variant configuration; PSO identities survive the rebuild.
func (r *Renderer) ApplySettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.TextureFiltering != r.settings.TextureFiltering {
		if err := r.pipelines.SetGlobalConfiguration(filteringConfiguration(s.TextureFiltering)); err != nil {
			return err
		}
	}
	r.settings = s
	r.paths = config.NewPaths(r.baseDir, s)
	return nil
}

// Update drains compilation callbacks onto the calling goroutine and
// runs the throttled self-validation pass. Call once per frame from the
// main thread.
func (r *Renderer) Update() {
	r.shaders.Update()
	r.shaders.PerformSelfValidation()
}

// Close releases the pipeline manager and the backend.
func (r *Renderer) Close() error {
	err := r.pipelines.Close()
	r.backend.Close()
	return err
}

// filteringConfiguration maps a settings filtering mode to the renderer
// configuration applied to every shader pack.
func filteringConfiguration(mode string) shader.Configuration {
	switch mode {
	case config.FilteringPoint:
		return shader.NewConfiguration(shader.FlagTextureFilteringPoint)
	case config.FilteringAnisotropic:
		return shader.NewConfiguration(shader.FlagTextureFilteringAnisotropic)
	default:
		return shader.NewConfiguration(shader.FlagTextureFilteringLinear)
	}
}
