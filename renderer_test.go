package vortex

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/vortex/backend"
	"github.com/gogpu/vortex/config"
	"github.com/gogpu/vortex/material"
	"github.com/gogpu/vortex/shader"
)

const vertexSource = `
@group(0) @binding(0) var<uniform> camera: CameraUniform;

fn main() {}
`

const fragmentSource = `
@group(1) @binding(0) var<uniform> light: LightUniform;
#ifdef USE_DIFFUSE_TEXTURE
@group(2) @binding(0) var diffuse_texture: texture_2d<f32>;
@group(2) @binding(1) var diffuse_sampler: sampler;
#endif

fn main() {}
`

func newTestRenderer(t *testing.T) (*Renderer, []shader.Description) {
	t.Helper()
	dir := t.TempDir()
	write := func(name, source string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
		return path
	}

	settings := config.Default()
	settings.CacheDir = filepath.Join(dir, "cache")
	settings.ResourceDir = dir

	r, err := New(
		WithBackend(backend.BackendNull),
		WithBaseDir(dir),
		WithSettings(settings),
	)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	descs := []shader.Description{
		{Name: "mesh.vs", SourcePath: write("mesh.vs.wgsl", vertexSource), Stage: shader.StageVertex, EntryPoint: "main"},
		{Name: "mesh.fs", SourcePath: write("mesh.fs.wgsl", fragmentSource), Stage: shader.StageFragment, EntryPoint: "main"},
	}
	return r, descs
}

// compileAndWait runs a batch to completion, draining callbacks the way
// a frame loop would.
func compileAndWait(t *testing.T, r *Renderer, descs []shader.Description) {
	t.Helper()
	var diags []*shader.Diagnostic
	var internal error
	completed := false
	err := r.Shaders().CompileShaders(descs, shader.CompileCallbacks{
		OnDiagnostic:    func(d *shader.Diagnostic) { diags = append(diags, d) },
		OnInternalError: func(err error) { internal = err },
		OnCompleted:     func() { completed = true },
	})
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for !completed {
		require.True(t, time.Now().Before(deadline), "compilation did not finish")
		r.Update()
		if r.Shaders().IsCompiling() {
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, internal)
	require.Empty(t, diags)
}

func TestRendererEndToEnd(t *testing.T) {
	r, descs := newTestRenderer(t)
	compileAndWait(t, r, descs)

	stone, err := material.New("stone", "mesh.vs", "mesh.fs", false, r.Pipelines())
	require.NoError(t, err)
	grass, err := material.New("grass", "mesh.vs", "mesh.fs", false, r.Pipelines())
	require.NoError(t, err)

	stonePSO, err := stone.PSO()
	require.NoError(t, err)
	grassPSO, err := grass.PSO()
	require.NoError(t, err)
	assert.Same(t, stonePSO, grassPSO, "identical materials share one PSO")
	assert.Equal(t, 2, stonePSO.ReferenceCount())
	assert.Equal(t, 1, r.Pipelines().PSOCount())

	stone.Close()
	assert.Equal(t, 1, grassPSO.ReferenceCount())
	assert.Equal(t, 1, r.Pipelines().PSOCount())

	grass.Close()
	assert.Equal(t, 0, r.Pipelines().PSOCount())
}

func TestRendererFilteringChangeRebuildsPipelines(t *testing.T) {
	r, descs := newTestRenderer(t)
	compileAndWait(t, r, descs)

	m, err := material.New("mat", "mesh.vs", "mesh.fs", false, r.Pipelines())
	require.NoError(t, err)
	defer m.Close()

	before, err := m.PSO()
	require.NoError(t, err)
	_, err = before.Backend(r.Backend().Device())
	require.NoError(t, err)
	require.True(t, before.IsBuilt())

	settings := r.Settings()
	settings.TextureFiltering = config.FilteringAnisotropic
	require.NoError(t, r.ApplySettings(settings))

	after, err := m.PSO()
	require.NoError(t, err)
	assert.Same(t, before, after, "PSO identity survives a settings change")
	assert.False(t, after.IsBuilt(), "backend state is torn down on a filtering change")
	assert.Equal(t, 1, r.Pipelines().PSOCount())

	// The next draw rebuilds against the new variant configuration.
	_, err = after.Backend(r.Backend().Device())
	require.NoError(t, err)
	assert.True(t, after.IsBuilt())
}

func TestRendererSettingsRoundTrip(t *testing.T) {
	r, _ := newTestRenderer(t)

	settings := r.Settings()
	assert.Equal(t, config.FilteringLinear, settings.TextureFiltering)

	settings.TextureFiltering = "mip-chain"
	assert.Error(t, r.ApplySettings(settings), "unknown filtering mode is rejected")
	assert.Equal(t, config.FilteringLinear, r.Settings().TextureFiltering)
}

func TestRendererUnknownBackend(t *testing.T) {
	_, err := New(WithBackend("vapor"))
	assert.ErrorIs(t, err, backend.ErrBackendNotAvailable)
}
