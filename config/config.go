// Package config holds engine settings persisted as TOML and the path
// resolver derived from them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Texture filtering modes selectable in settings.
const (
	FilteringPoint       = "point"
	FilteringLinear      = "linear"
	FilteringAnisotropic = "anisotropic"
)

// Settings are the persisted engine settings that influence shader
// variant selection and cache placement.
type Settings struct {
	// CacheDir is the root of the on-disk shader cache.
	CacheDir string `toml:"cache_dir"`

	// ResourceDir is where shader sources are looked up.
	ResourceDir string `toml:"resource_dir"`

	// TextureFiltering selects the sampling quality. One of the
	// Filtering* constants.
	TextureFiltering string `toml:"texture_filtering"`

	// SelfValidationInterval is how often consistency checks run.
	SelfValidationInterval time.Duration `toml:"self_validation_interval"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		CacheDir:               "cache",
		ResourceDir:            "resources",
		TextureFiltering:       FilteringLinear,
		SelfValidationInterval: 30 * time.Second,
	}
}

// Validate checks field values, normalizing an unset filtering mode to
// the default.
func (s *Settings) Validate() error {
	switch s.TextureFiltering {
	case FilteringPoint, FilteringLinear, FilteringAnisotropic:
	case "":
		s.TextureFiltering = FilteringLinear
	default:
		return fmt.Errorf("config: unknown texture filtering %q", s.TextureFiltering)
	}
	if s.SelfValidationInterval < 0 {
		return fmt.Errorf("config: negative self validation interval %s", s.SelfValidationInterval)
	}
	return nil
}

// Load reads settings from a TOML file. A missing file yields defaults
// without error so first runs need no setup.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	s := Default()
	if err := toml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save writes settings as TOML, creating parent directories as needed.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Paths resolves file locations from settings relative to a base
// directory. An absolute settings path wins over the base.
type Paths struct {
	base     string
	settings Settings
}

// NewPaths creates a resolver rooted at base.
func NewPaths(base string, s Settings) *Paths {
	return &Paths{base: base, settings: s}
}

// CacheRoot returns the absolute shader cache root.
func (p *Paths) CacheRoot() string {
	return p.resolve(p.settings.CacheDir)
}

// ResourceRoot returns the absolute shader source root.
func (p *Paths) ResourceRoot() string {
	return p.resolve(p.settings.ResourceDir)
}

// ShaderSource returns the absolute path of one shader source file.
func (p *Paths) ShaderSource(name string) string {
	return filepath.Join(p.ResourceRoot(), name)
}

func (p *Paths) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(p.base, dir)
}
