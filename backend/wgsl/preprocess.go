// Package wgsl translates annotated WGSL shader source into SPIR-V via
// the naga compiler. Translation runs in two phases: a textual
// preprocessor expanding include directives and macro conditionals, then
// naga compilation of the flattened source. Resource bindings are
// reflected from the flattened source so callers can build bind group
// layouts without a second compile.
package wgsl

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gogpu/vortex/shader"
)

var (
	// includeRegex matches an include directive and captures the quoted path.
	includeRegex = regexp.MustCompile(`^\s*#include\s+"([^"]+)"\s*$`)

	// conditionalRegex matches #ifdef/#ifndef and captures the macro name.
	conditionalRegex = regexp.MustCompile(`^\s*#(ifdef|ifndef)\s+(\w+)\s*$`)

	// elseRegex and endifRegex close conditional blocks.
	elseRegex  = regexp.MustCompile(`^\s*#else\s*$`)
	endifRegex = regexp.MustCompile(`^\s*#endif\s*$`)
)

// macroSet splits the canonical macro list into defined names and
// name → value substitutions.
type macroSet struct {
	defined map[string]struct{}
	values  map[string]string
}

func newMacroSet(macros []string) macroSet {
	ms := macroSet{
		defined: make(map[string]struct{}, len(macros)),
		values:  make(map[string]string),
	}
	for _, m := range macros {
		name, value, hasValue := strings.Cut(m, "=")
		ms.defined[name] = struct{}{}
		if hasValue {
			ms.values[name] = value
		}
	}
	return ms
}

// Preprocess flattens include directives and resolves macro conditionals,
// returning WGSL that naga can compile directly. Malformed directives and
// include cycles are reported as a diagnostic since they are faults in
// the shader source, not in the engine. The diagnostic's Name field is
// left empty for the caller to fill.
func Preprocess(path string, source []byte, macros []string) (string, *shader.Diagnostic, error) {
	ms := newMacroSet(macros)
	p := &preprocessor{macros: ms, onChain: make(map[string]struct{})}

	out, diag := p.expand(path, string(source))
	if diag != nil {
		return "", diag, nil
	}
	if p.readErr != nil {
		return "", nil, p.readErr
	}
	return substituteValues(out, ms), nil, nil
}

type preprocessor struct {
	macros  macroSet
	onChain map[string]struct{}
	readErr error
}

// condState tracks one open conditional block while scanning a file.
type condState struct {
	// emitting is whether lines in the current branch are kept.
	emitting bool
	// taken is whether any branch of this block has been kept yet.
	taken bool
	line  int
}

func (p *preprocessor) expand(path, source string) (string, *shader.Diagnostic) {
	if _, ok := p.onChain[path]; ok {
		return "", &shader.Diagnostic{
			Message: fmt.Sprintf("include cycle through %q", path),
		}
	}
	p.onChain[path] = struct{}{}
	defer delete(p.onChain, path)

	var (
		out   strings.Builder
		stack []condState
	)
	emitting := func() bool {
		for _, c := range stack {
			if !c.emitting {
				return false
			}
		}
		return true
	}

	lines := strings.Split(source, "\n")
	for i, line := range lines {
		lineNo := i + 1

		if m := conditionalRegex.FindStringSubmatch(line); m != nil {
			_, defined := p.macros.defined[m[2]]
			keep := defined
			if m[1] == "ifndef" {
				keep = !defined
			}
			stack = append(stack, condState{emitting: keep, taken: keep, line: lineNo})
			continue
		}
		if elseRegex.MatchString(line) {
			if len(stack) == 0 {
				return "", &shader.Diagnostic{
					Message: fmt.Sprintf("%s:%d: #else without #ifdef", path, lineNo),
				}
			}
			top := &stack[len(stack)-1]
			top.emitting = !top.taken
			top.taken = true
			continue
		}
		if endifRegex.MatchString(line) {
			if len(stack) == 0 {
				return "", &shader.Diagnostic{
					Message: fmt.Sprintf("%s:%d: #endif without #ifdef", path, lineNo),
				}
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if !emitting() {
			continue
		}

		if m := includeRegex.FindStringSubmatch(line); m != nil {
			includePath := filepath.Join(filepath.Dir(path), m[1])
			data, err := os.ReadFile(includePath)
			if err != nil {
				if os.IsNotExist(err) {
					return "", &shader.Diagnostic{
						Message: fmt.Sprintf("%s:%d: include %q not found", path, lineNo, m[1]),
					}
				}
				p.readErr = shader.LocateInternal(err, "wgsl.Preprocess include")
				return "", nil
			}
			expanded, diag := p.expand(includePath, string(data))
			if diag != nil || p.readErr != nil {
				return "", diag
			}
			out.WriteString(expanded)
			out.WriteByte('\n')
			continue
		}

		out.WriteString(line)
		out.WriteByte('\n')
	}

	if len(stack) > 0 {
		return "", &shader.Diagnostic{
			Message: fmt.Sprintf("%s:%d: unterminated #ifdef", path, stack[len(stack)-1].line),
		}
	}
	return out.String(), nil
}

// substituteValues replaces whole-word occurrences of value-carrying
// macros. Name-only defines are left alone since they only drive
// conditionals.
func substituteValues(source string, ms macroSet) string {
	for name, value := range ms.values {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		source = re.ReplaceAllString(source, value)
	}
	return source
}
