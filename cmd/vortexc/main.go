// Command vortexc compiles shader packs offline into the on-disk cache,
// so a game ships with a warm cache instead of compiling on first run.
//
// Usage:
//
//	vortexc -cache DIR [-entry NAME] [-v] file.vs.wgsl [file.fs.wgsl ...]
//
// The pipeline stage is derived from the file name: .vs.wgsl compiles as
// a vertex shader, .fs.wgsl as a fragment shader, .cs.wgsl as compute.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/vortex/backend/wgsl"
	"github.com/gogpu/vortex/shader"
)

func main() {
	cacheDir := flag.String("cache", "cache", "shader cache directory")
	entryPoint := flag.String("entry", "main", "shader entry function name")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "vortexc: no shader source files given")
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	shader.SetLogger(logger)

	compiler := wgsl.NewCompiler()
	store := shader.NewCacheStore(*cacheDir)

	failed := 0
	for _, path := range flag.Args() {
		if err := compileOne(compiler, store, path, *entryPoint, logger); err != nil {
			logger.Error("compile failed", "source", path, "error", err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func compileOne(c shader.Compiler, store *shader.CacheStore, path, entry string, logger *slog.Logger) error {
	stage, err := stageFromPath(path)
	if err != nil {
		return err
	}

	desc := &shader.Description{
		Name:       packName(path),
		SourcePath: path,
		Stage:      stage,
		EntryPoint: entry,
	}

	pack, diag, err := shader.CompilePack(c, store, desc)
	if err != nil {
		return err
	}
	if diag != nil {
		return fmt.Errorf("%s: %s", diag.Name, diag.Message)
	}

	logger.Info("compiled", "pack", pack.Name(), "stage", stage, "variants", pack.VariantCount())
	return nil
}

// stageFromPath derives the pipeline stage from the double extension.
func stageFromPath(path string) (shader.Stage, error) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".vs.wgsl"):
		return shader.StageVertex, nil
	case strings.HasSuffix(base, ".fs.wgsl"):
		return shader.StageFragment, nil
	case strings.HasSuffix(base, ".cs.wgsl"):
		return shader.StageCompute, nil
	}
	return 0, fmt.Errorf("vortexc: cannot derive stage from %q (want .vs.wgsl, .fs.wgsl or .cs.wgsl)", base)
}

// packName strips the language extension, keeping the stage suffix so
// the vertex and fragment packs of one material get distinct names.
func packName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wgsl")
}
