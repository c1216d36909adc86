// Command vortexinfo probes the graphics stack: it initializes the best
// available backend, reports which one was selected, and optionally
// compiles a vertex/fragment shader pair and builds one pipeline state
// object against the live device.
//
// Usage:
//
//	vortexinfo [-backend NAME] [-cache DIR] [mesh.vs.wgsl mesh.fs.wgsl]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/vortex"
	"github.com/gogpu/vortex/backend"
	_ "github.com/gogpu/vortex/backend/native"
	"github.com/gogpu/vortex/config"
	"github.com/gogpu/vortex/material"
	"github.com/gogpu/vortex/shader"
)

func main() {
	backendName := flag.String("backend", "", "backend to use (default: best available)")
	cacheDir := flag.String("cache", "cache", "shader cache directory")
	flag.Parse()

	vortex.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*backendName, *cacheDir, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "vortexinfo:", err)
		os.Exit(1)
	}
}

func run(backendName, cacheDir string, args []string) error {
	settings := config.Default()
	settings.CacheDir = cacheDir

	opts := []vortex.Option{vortex.WithSettings(settings)}
	if backendName != "" {
		opts = append(opts, vortex.WithBackend(backendName))
	}
	r, err := vortex.New(opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("backend:    %s\n", r.Backend().Name())
	fmt.Printf("registered: %s\n", strings.Join(backend.Available(), ", "))
	fmt.Printf("cache:      %s\n", r.Paths().CacheRoot())

	if len(args) == 0 {
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("expected a vertex and a fragment shader, got %d files", len(args))
	}
	return buildPipeline(r, args[0], args[1])
}

// buildPipeline compiles both packs, waits for the batch and builds one
// opaque PSO, which exercises the whole compile-cache-build path on the
// selected backend.
func buildPipeline(r *vortex.Renderer, vsPath, fsPath string) error {
	descs := []shader.Description{
		{Name: packName(vsPath), SourcePath: vsPath, Stage: shader.StageVertex, EntryPoint: "main"},
		{Name: packName(fsPath), SourcePath: fsPath, Stage: shader.StageFragment, EntryPoint: "main"},
	}

	var batchErr error
	done := false
	err := r.Shaders().CompileShaders(descs, shader.CompileCallbacks{
		OnProgress: func(finished, total int) {
			fmt.Printf("compiled %d/%d packs\n", finished, total)
		},
		OnDiagnostic: func(d *shader.Diagnostic) {
			batchErr = fmt.Errorf("shader %s: %s", d.Name, d.Message)
		},
		OnInternalError: func(err error) { batchErr = err },
		OnCompleted:     func() { done = true },
	})
	if err != nil {
		return err
	}
	for !done {
		r.Update()
		time.Sleep(10 * time.Millisecond)
	}
	if batchErr != nil {
		return batchErr
	}

	m, err := material.New("warmup", descs[0].Name, descs[1].Name, false, r.Pipelines())
	if err != nil {
		return err
	}
	defer m.Close()

	pso, err := m.PSO()
	if err != nil {
		return err
	}
	if _, err := pso.Backend(r.Backend().Device()); err != nil {
		return err
	}
	fmt.Printf("pso:        %s (%d bindings)\n", pso.ID(), len(pso.BindingSignature()))
	return nil
}

func packName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wgsl")
}
