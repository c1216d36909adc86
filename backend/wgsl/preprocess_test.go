package wgsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestPreprocessPassthrough(t *testing.T) {
	src := "fn vs_main() {}\n"
	out, diag, err := Preprocess("mem.wgsl", []byte(src), nil)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if diag != nil {
		t.Fatalf("unexpected diagnostic: %s", diag.Message)
	}
	if out != src {
		t.Errorf("output changed: %q", out)
	}
}

func TestPreprocessInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.wgsl", "struct Camera { mvp: mat4x4<f32> }")
	main := writeFile(t, dir, "main.wgsl", "#include \"common.wgsl\"\nfn vs_main() {}")

	src, _ := os.ReadFile(main)
	out, diag, err := Preprocess(main, src, nil)
	if err != nil || diag != nil {
		t.Fatalf("Preprocess: err=%v diag=%v", err, diag)
	}
	if !strings.Contains(out, "struct Camera") {
		t.Errorf("include not expanded:\n%s", out)
	}
	if strings.Contains(out, "#include") {
		t.Errorf("directive survived:\n%s", out)
	}
}

func TestPreprocessNestedInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "types.wgsl", "struct Light { pos: vec3<f32> }")
	writeFile(t, dir, "common.wgsl", "#include \"types.wgsl\"\nstruct Camera {}")
	main := writeFile(t, dir, "main.wgsl", "#include \"common.wgsl\"\nfn fs_main() {}")

	src, _ := os.ReadFile(main)
	out, diag, err := Preprocess(main, src, nil)
	if err != nil || diag != nil {
		t.Fatalf("Preprocess: err=%v diag=%v", err, diag)
	}
	for _, want := range []string{"struct Light", "struct Camera", "fn fs_main"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output", want)
		}
	}
}

func TestPreprocessIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.wgsl", "#include \"b.wgsl\"")
	writeFile(t, dir, "b.wgsl", "#include \"a.wgsl\"")
	a := filepath.Join(dir, "a.wgsl")

	src, _ := os.ReadFile(a)
	_, diag, err := Preprocess(a, src, nil)
	if err != nil {
		t.Fatalf("cycle must be a diagnostic, got error: %v", err)
	}
	if diag == nil || !strings.Contains(diag.Message, "cycle") {
		t.Fatalf("expected cycle diagnostic, got %v", diag)
	}
}

func TestPreprocessMissingInclude(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.wgsl", "#include \"nope.wgsl\"")

	src, _ := os.ReadFile(main)
	_, diag, err := Preprocess(main, src, nil)
	if err != nil {
		t.Fatalf("missing include must be a diagnostic, got error: %v", err)
	}
	if diag == nil || !strings.Contains(diag.Message, "not found") {
		t.Fatalf("expected not-found diagnostic, got %v", diag)
	}
}

func TestPreprocessConditionals(t *testing.T) {
	src := strings.Join([]string{
		"#ifdef USE_DIFFUSE_TEXTURE",
		"var diffuse: i32;",
		"#else",
		"var flat_color: i32;",
		"#endif",
		"#ifndef USE_SKINNING",
		"var rigid: i32;",
		"#endif",
	}, "\n")

	tests := []struct {
		name    string
		macros  []string
		want    []string
		notWant []string
	}{
		{
			name:    "defined",
			macros:  []string{"USE_DIFFUSE_TEXTURE"},
			want:    []string{"diffuse", "rigid"},
			notWant: []string{"flat_color"},
		},
		{
			name:    "undefined",
			macros:  nil,
			want:    []string{"flat_color", "rigid"},
			notWant: []string{"var diffuse"},
		},
		{
			name:    "ifndef suppressed",
			macros:  []string{"USE_SKINNING"},
			want:    []string{"flat_color"},
			notWant: []string{"rigid"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag, err := Preprocess("mem.wgsl", []byte(src), tt.macros)
			if err != nil || diag != nil {
				t.Fatalf("Preprocess: err=%v diag=%v", err, diag)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("missing %q:\n%s", w, out)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("unexpected %q:\n%s", nw, out)
				}
			}
		})
	}
}

func TestPreprocessNestedConditionals(t *testing.T) {
	src := strings.Join([]string{
		"#ifdef OUTER",
		"#ifdef INNER",
		"var both: i32;",
		"#endif",
		"var outer_only: i32;",
		"#endif",
	}, "\n")

	out, diag, err := Preprocess("mem.wgsl", []byte(src), []string{"OUTER"})
	if err != nil || diag != nil {
		t.Fatalf("Preprocess: err=%v diag=%v", err, diag)
	}
	if strings.Contains(out, "both") {
		t.Error("inner branch emitted without INNER defined")
	}
	if !strings.Contains(out, "outer_only") {
		t.Error("outer branch missing")
	}
}

func TestPreprocessUnterminatedConditional(t *testing.T) {
	_, diag, err := Preprocess("mem.wgsl", []byte("#ifdef X\nvar a: i32;"), nil)
	if err != nil {
		t.Fatalf("unterminated block must be a diagnostic, got error: %v", err)
	}
	if diag == nil || !strings.Contains(diag.Message, "unterminated") {
		t.Fatalf("expected unterminated diagnostic, got %v", diag)
	}
}

func TestPreprocessStrayElse(t *testing.T) {
	_, diag, err := Preprocess("mem.wgsl", []byte("#else"), nil)
	if err != nil || diag == nil {
		t.Fatalf("expected diagnostic, got err=%v diag=%v", err, diag)
	}
}

func TestPreprocessValueSubstitution(t *testing.T) {
	src := "const COUNT = MAX_LIGHTS;\nconst other = MAX_LIGHTS_EXT;"
	out, diag, err := Preprocess("mem.wgsl", []byte(src), []string{"MAX_LIGHTS=16"})
	if err != nil || diag != nil {
		t.Fatalf("Preprocess: err=%v diag=%v", err, diag)
	}
	if !strings.Contains(out, "const COUNT = 16;") {
		t.Errorf("value not substituted:\n%s", out)
	}
	// Whole-word only: the longer identifier must survive.
	if !strings.Contains(out, "MAX_LIGHTS_EXT") {
		t.Errorf("prefix identifier clobbered:\n%s", out)
	}
}
