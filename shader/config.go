package shader

import (
	"encoding/binary"
	"slices"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Flag is a compile-time shader feature flag. Every flag expands to a
// preprocessor macro of the same name in the shader source, so the set of
// flags used to compile a variant fully determines its behavior.
//
// The flag set is closed: flags are defined here at build time and the
// valid combinations per stage are enumerated once at process start.
type Flag uint16

const (
	// FlagUseDiffuseTexture enables sampling of the material's diffuse texture.
	FlagUseDiffuseTexture Flag = iota

	// FlagUseNormalTexture enables normal mapping from the material's normal texture.
	FlagUseNormalTexture

	// FlagTextureFilteringPoint selects point (nearest) texture filtering.
	// Requires FlagUseDiffuseTexture.
	FlagTextureFilteringPoint

	// FlagTextureFilteringLinear selects bilinear texture filtering.
	// Requires FlagUseDiffuseTexture.
	FlagTextureFilteringLinear

	// FlagTextureFilteringAnisotropic selects anisotropic texture filtering.
	// Requires FlagUseDiffuseTexture.
	FlagTextureFilteringAnisotropic

	// FlagUseSkinning enables skeletal animation vertex skinning.
	FlagUseSkinning

	flagCount // keep last
)

// flagNames maps flags to the macro names injected into shader source.
var flagNames = [flagCount]string{
	FlagUseDiffuseTexture:           "USE_DIFFUSE_TEXTURE",
	FlagUseNormalTexture:            "USE_NORMAL_TEXTURE",
	FlagTextureFilteringPoint:       "TEXTURE_FILTERING_POINT",
	FlagTextureFilteringLinear:      "TEXTURE_FILTERING_LINEAR",
	FlagTextureFilteringAnisotropic: "TEXTURE_FILTERING_ANISOTROPIC",
	FlagUseSkinning:                 "USE_SKINNING",
}

// flagByName is the inverse of flagNames, used when loading cache metadata.
var flagByName = func() map[string]Flag {
	m := make(map[string]Flag, flagCount)
	for f, name := range flagNames {
		m[name] = Flag(f)
	}
	return m
}()

// flagDependencies maps a dependent flag to the flag that must be present
// for it to have any effect. A filtering mode without a texture to filter
// is meaningless, so such combinations are never generated and requests
// for them are filtered out during resolve.
var flagDependencies = map[Flag]Flag{
	FlagTextureFilteringPoint:       FlagUseDiffuseTexture,
	FlagTextureFilteringLinear:      FlagUseDiffuseTexture,
	FlagTextureFilteringAnisotropic: FlagUseDiffuseTexture,
}

// String returns the macro name of the flag.
func (f Flag) String() string {
	if int(f) >= len(flagNames) {
		return "UNKNOWN_FLAG(" + strconv.Itoa(int(f)) + ")"
	}
	return flagNames[f]
}

// FlagByName returns the flag with the given macro name.
func FlagByName(name string) (Flag, bool) {
	f, ok := flagByName[name]
	return f, ok
}

// Configuration is a canonical, deduplicated set of flags. The zero value
// is the empty (default) configuration. Configurations are value types:
// once built they are never mutated, so they can be shared freely and used
// as map keys via Hash.
type Configuration struct {
	flags []Flag // sorted ascending, no duplicates
}

// NewConfiguration builds a canonical configuration from the given flags.
// Duplicates are removed and the flag order is irrelevant.
func NewConfiguration(flags ...Flag) Configuration {
	if len(flags) == 0 {
		return Configuration{}
	}
	fs := slices.Clone(flags)
	slices.Sort(fs)
	fs = slices.Compact(fs)
	return Configuration{flags: fs}
}

// Flags returns the flags in canonical (ascending) order.
// The returned slice must not be modified.
func (c Configuration) Flags() []Flag {
	return c.flags
}

// Empty reports whether the configuration contains no flags.
func (c Configuration) Empty() bool {
	return len(c.flags) == 0
}

// Contains reports whether the configuration includes the given flag.
func (c Configuration) Contains(f Flag) bool {
	_, ok := slices.BinarySearch(c.flags, f)
	return ok
}

// With returns a new configuration with the given flag added.
func (c Configuration) With(f Flag) Configuration {
	if c.Contains(f) {
		return c
	}
	fs := make([]Flag, 0, len(c.flags)+1)
	fs = append(fs, c.flags...)
	fs = append(fs, f)
	slices.Sort(fs)
	return Configuration{flags: fs}
}

// Union returns the canonical union of two configurations.
func (c Configuration) Union(other Configuration) Configuration {
	fs := make([]Flag, 0, len(c.flags)+len(other.flags))
	fs = append(fs, c.flags...)
	fs = append(fs, other.flags...)
	return NewConfiguration(fs...)
}

// Intersects reports whether the two configurations share any flag.
func (c Configuration) Intersects(other Configuration) bool {
	for _, f := range other.flags {
		if c.Contains(f) {
			return true
		}
	}
	return false
}

// Equal reports whether two configurations contain exactly the same flags.
func (c Configuration) Equal(other Configuration) bool {
	return slices.Equal(c.flags, other.flags)
}

// MacroNames returns the macro names of all flags in canonical order.
// These are the preprocessor defines passed to the backend compiler.
func (c Configuration) MacroNames() []string {
	if len(c.flags) == 0 {
		return nil
	}
	names := make([]string, len(c.flags))
	for i, f := range c.flags {
		names[i] = f.String()
	}
	return names
}

// Hash returns the 64-bit identity of the configuration.
//
// The empty configuration hashes to 0, reserved to mean "default variant,
// no name suffix". Non-empty configurations hash the little-endian flag
// tags in canonical order through xxHash3, so insertion order can never
// influence the result.
func (c Configuration) Hash() uint64 {
	if len(c.flags) == 0 {
		return 0
	}
	buf := make([]byte, 2*len(c.flags))
	for i, f := range c.flags {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(f))
	}
	return xxh3.Hash(buf)
}

// TextForm returns the decimal string of the configuration hash, or the
// empty string for the empty configuration. The text form is appended to
// variant shader names, cache file names and log messages.
func (c Configuration) TextForm() string {
	h := c.Hash()
	if h == 0 {
		return ""
	}
	return strconv.FormatUint(h, 10)
}

// String returns a human-readable listing of the flags, for logging.
func (c Configuration) String() string {
	if len(c.flags) == 0 {
		return "(default)"
	}
	return strings.Join(c.MacroNames(), "+")
}

// IsFlagRelevant reports whether adding flag to cfg would produce a
// meaningful variant. A flag with a registered prerequisite is relevant
// only when that prerequisite is present in cfg; flags without an entry
// in the dependency table are always relevant.
func IsFlagRelevant(f Flag, cfg Configuration) bool {
	required, ok := flagDependencies[f]
	if !ok {
		return true
	}
	return cfg.Contains(required)
}

// EnumerateValidConfigurations builds the full set of valid configurations
// for a shader stage. For every flag in distribute, every configuration in
// base is copied with the flag added; the result is unioned with constant
// and, when includeEmpty is set, the empty configuration. Configurations
// violating a flag dependency are never produced by construction, because
// base sets are expected to already carry the prerequisites. The result is
// deduplicated by hash and each element is canonical.
func EnumerateValidConfigurations(constant, base []Configuration, distribute []Flag, includeEmpty bool) []Configuration {
	seen := make(map[uint64]struct{})
	var out []Configuration

	add := func(c Configuration) {
		h := c.Hash()
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, c)
	}

	if includeEmpty {
		add(Configuration{})
	}
	for _, c := range constant {
		add(c)
	}
	for _, f := range distribute {
		for _, b := range base {
			add(b.With(f))
		}
	}
	return out
}

// Stage identifies the pipeline stage a shader program targets.
type Stage int

const (
	// StageVertex is a vertex shader.
	StageVertex Stage = iota

	// StageFragment is a fragment (pixel) shader.
	StageFragment

	// StageCompute is a compute shader.
	StageCompute
)

// String returns the stage name used in cache metadata and logs.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// StageByName is the inverse of Stage.String, used by cache metadata.
func StageByName(name string) (Stage, bool) {
	switch name {
	case "vertex":
		return StageVertex, true
	case "fragment":
		return StageFragment, true
	case "compute":
		return StageCompute, true
	default:
		return 0, false
	}
}

// Per-stage registries of valid configurations. Built once at package
// init from the enumeration rules and treated as read-only afterwards.
var (
	vertexConfigurations   []Configuration
	fragmentConfigurations []Configuration
	computeConfigurations  []Configuration
)

func init() {
	diffuse := NewConfiguration(FlagUseDiffuseTexture)
	diffuseNormal := NewConfiguration(FlagUseDiffuseTexture, FlagUseNormalTexture)

	vertexConfigurations = EnumerateValidConfigurations(
		[]Configuration{NewConfiguration(FlagUseSkinning)},
		nil, nil, true,
	)
	fragmentConfigurations = EnumerateValidConfigurations(
		[]Configuration{diffuse, diffuseNormal},
		[]Configuration{diffuse, diffuseNormal},
		[]Flag{
			FlagTextureFilteringPoint,
			FlagTextureFilteringLinear,
			FlagTextureFilteringAnisotropic,
		},
		true,
	)
	computeConfigurations = EnumerateValidConfigurations(nil, nil, nil, true)
}

// ValidConfigurations returns the immutable registry of valid
// configurations for the given stage. Callers must not modify the result.
func ValidConfigurations(s Stage) []Configuration {
	switch s {
	case StageVertex:
		return vertexConfigurations
	case StageFragment:
		return fragmentConfigurations
	case StageCompute:
		return computeConfigurations
	default:
		return nil
	}
}
