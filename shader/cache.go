package shader

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// bytecodeBaseName is the base file name for compiled bytecode inside a
// shader's cache directory. The configuration text form is appended so
// variants never collide; the metadata file adds metaSuffix on top.
const (
	bytecodeBaseName = "shader"
	metaSuffix       = ".meta"
)

// includeDirectiveRegex matches `#include "relative/path.wgsl"` lines.
// Angle-bracket includes are not supported: every include is resolved
// relative to the including file.
var includeDirectiveRegex = regexp.MustCompile(`(?m)^\s*#include\s+"([^"]+)"`)

// ComputeFileHash returns the SHA-256 hex digest of the file contents.
// Used for the top-level source file and every file in its include tree.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("shader: hash %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, bufio.NewReader(f)); err != nil {
		return "", fmt.Errorf("shader: hash %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IncludeTree maps an include-chain label (the path of including files
// joined with " > ") to the hashes of the files included at that level,
// keyed by the include path as written in the directive. Capturing the
// whole tree means a change anywhere in the dependency graph invalidates
// the cache, not just a change to the top-level file.
type IncludeTree map[string]map[string]string

// DescribeIncludeTree recursively scans path for include directives and
// hashes every included file. Include cycles terminate: a file already on
// the current chain is recorded once and not descended into again.
func DescribeIncludeTree(path string) (IncludeTree, error) {
	tree := make(IncludeTree)
	if err := describeIncludes(path, filepath.Base(path), tree, map[string]bool{path: true}); err != nil {
		return nil, err
	}
	return tree, nil
}

func describeIncludes(path, chain string, tree IncludeTree, onChain map[string]bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("shader: include scan %q: %w", path, err)
	}
	matches := includeDirectiveRegex.FindAllStringSubmatch(string(data), -1)
	if len(matches) == 0 {
		return nil
	}

	level := make(map[string]string, len(matches))
	for _, m := range matches {
		rel := m[1]
		incPath := filepath.Join(filepath.Dir(path), filepath.FromSlash(rel))
		hash, err := ComputeFileHash(incPath)
		if err != nil {
			return err
		}
		level[rel] = hash

		if onChain[incPath] {
			continue
		}
		onChain[incPath] = true
		err = describeIncludes(incPath, chain+" > "+rel, tree, onChain)
		delete(onChain, incPath)
		if err != nil {
			return err
		}
	}
	tree[chain] = level
	return nil
}

// Equal reports whether two include trees record identical hashes.
func (t IncludeTree) Equal(other IncludeTree) bool {
	if len(t) != len(other) {
		return false
	}
	for chain, level := range t {
		otherLevel, ok := other[chain]
		if !ok || len(level) != len(otherLevel) {
			return false
		}
		for rel, hash := range level {
			if otherLevel[rel] != hash {
				return false
			}
		}
	}
	return true
}

// CacheMeta is the metadata record persisted next to each compiled
// variant, serialized as TOML. On load it is compared against freshly
// computed values to detect staleness.
type CacheMeta struct {
	SourcePath   string      `toml:"source_path"`
	SourceHash   string      `toml:"source_hash"`
	IncludeTree  IncludeTree `toml:"include_tree,omitempty"`
	EntryPoint   string      `toml:"entry_point"`
	Stage        string      `toml:"stage"`
	Macros       []string    `toml:"macros,omitempty"`
	BytecodeSize int64       `toml:"bytecode_size"`
	Bindings     []Binding   `toml:"bindings,omitempty"`
}

// ValidateCacheMeta compares a stored metadata record against the live
// one and returns the first mismatch in priority order, or nil when the
// cache is still valid. The bytecode file itself is checked last: it must
// exist and match the recorded size.
func ValidateCacheMeta(stored, live *CacheMeta, bytecodePath string) *InvalidationReason {
	reason := func(r InvalidationReason) *InvalidationReason { return &r }

	if stored.EntryPoint != live.EntryPoint {
		return reason(InvalidationEntryPointChanged)
	}
	if stored.Stage != live.Stage {
		return reason(InvalidationStageChanged)
	}
	sm, lm := slices.Clone(stored.Macros), slices.Clone(live.Macros)
	slices.Sort(sm)
	slices.Sort(lm)
	if !slices.Equal(sm, lm) {
		return reason(InvalidationMacrosChanged)
	}
	if stored.SourceHash != live.SourceHash {
		return reason(InvalidationSourceChanged)
	}
	if !stored.IncludeTree.Equal(live.IncludeTree) {
		return reason(InvalidationIncludeTreeChanged)
	}
	info, err := os.Stat(bytecodePath)
	if err != nil || info.Size() != stored.BytecodeSize {
		return reason(InvalidationBinaryMissing)
	}
	return nil
}

// CacheStore persists compiled bytecode and metadata under a root
// directory, one subdirectory per logical shader name.
type CacheStore struct {
	root string
}

// NewCacheStore creates a store rooted at dir. The directory is created
// on first write, not here.
func NewCacheStore(dir string) *CacheStore {
	return &CacheStore{root: dir}
}

// Root returns the cache root directory.
func (s *CacheStore) Root() string {
	return s.root
}

// ShaderDir returns the cache directory for a logical shader name.
func (s *CacheStore) ShaderDir(name string) string {
	return filepath.Join(s.root, name)
}

// storeNameOK reports whether a shader name stays inside the cache root
// when joined to it. Separators and all-dot names ("." resolves to the
// root itself, ".." above it) are rejected; the manager's charset check
// is stricter, this is the store's own floor.
func storeNameOK(name string) bool {
	if name == "" {
		return false
	}
	dots := 0
	for _, r := range name {
		switch r {
		case '/', '\\':
			return false
		case '.':
			dots++
		}
	}
	return dots < len(name)
}

// BytecodePath returns the bytecode file path for a shader variant.
// cfgText is the configuration text form ("" for the default variant).
func (s *CacheStore) BytecodePath(name, cfgText string) string {
	return filepath.Join(s.ShaderDir(name), bytecodeBaseName+cfgText)
}

// MetaPath returns the metadata file path for a shader variant.
func (s *CacheStore) MetaPath(name, cfgText string) string {
	return s.BytecodePath(name, cfgText) + metaSuffix
}

// WriteVariant persists bytecode and its metadata record atomically
// enough for our purposes: bytecode first, metadata last, so a crash
// between the two writes is caught by validation (size mismatch or
// missing meta) and the directory purged.
func (s *CacheStore) WriteVariant(name, cfgText string, bytecode []byte, meta *CacheMeta) error {
	if !storeNameOK(name) {
		return Internalf("CacheStore.WriteVariant: unsafe shader name %q", name)
	}
	dir := s.ShaderDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return LocateInternal(err, "CacheStore.WriteVariant mkdir")
	}
	bcPath := s.BytecodePath(name, cfgText)
	if err := os.WriteFile(bcPath, bytecode, 0o644); err != nil {
		return LocateInternal(err, "CacheStore.WriteVariant bytecode")
	}
	meta.BytecodeSize = int64(len(bytecode))
	data, err := toml.Marshal(meta)
	if err != nil {
		return LocateInternal(err, "CacheStore.WriteVariant marshal meta")
	}
	if err := os.WriteFile(s.MetaPath(name, cfgText), data, 0o644); err != nil {
		return LocateInternal(err, "CacheStore.WriteVariant meta")
	}
	return nil
}

// ReadMeta loads and decodes the metadata record for a variant.
func (s *CacheStore) ReadMeta(name, cfgText string) (*CacheMeta, error) {
	data, err := os.ReadFile(s.MetaPath(name, cfgText))
	if err != nil {
		return nil, LocateInternal(err, "CacheStore.ReadMeta")
	}
	var meta CacheMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, LocateInternal(err, "CacheStore.ReadMeta unmarshal")
	}
	return &meta, nil
}

// Purge removes the entire cache directory for a shader name. Partial
// deletion would leave an inconsistent mix of stale and fresh variants,
// so invalidation always removes the whole subtree.
func (s *CacheStore) Purge(name string) error {
	if !storeNameOK(name) {
		return Internalf("CacheStore.Purge: unsafe shader name %q", name)
	}
	dir := s.ShaderDir(name)
	if !strings.HasPrefix(dir, s.root) || dir == s.root {
		return Internalf("CacheStore.Purge: refusing to remove %q", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return LocateInternal(err, "CacheStore.Purge")
	}
	return nil
}

// liveMeta computes a fresh metadata record for a description, hashing
// the source file and its include tree.
func liveMeta(desc *Description, macros []string) (*CacheMeta, error) {
	srcHash, err := ComputeFileHash(desc.SourcePath)
	if err != nil {
		return nil, LocateInternal(err, "liveMeta source hash")
	}
	tree, err := DescribeIncludeTree(desc.SourcePath)
	if err != nil {
		return nil, LocateInternal(err, "liveMeta include tree")
	}
	return &CacheMeta{
		SourcePath:  desc.SourcePath,
		SourceHash:  srcHash,
		IncludeTree: tree,
		EntryPoint:  desc.EntryPoint,
		Stage:       desc.Stage.String(),
		Macros:      macros,
	}, nil
}
