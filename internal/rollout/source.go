package rollout

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxPolicyFileSize = 1024 * 1024 // 1MB

	// operationsKey is the top-level section of a policy document.
	operationsKey = "operations"
)

// Source produces rollout snapshots from an external store.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Load calls f.
func (f SourceFunc) Load(ctx context.Context) (Snapshot, error) { return f(ctx) }

// StaticSource always returns the same snapshot, typically built from config defaults.
type StaticSource struct {
	snapshot Snapshot
}

// NewStaticSource parses raw once. Values use the same forms as a policy file.
func NewStaticSource(raw map[string]interface{}) (*StaticSource, error) {
	snap, err := ParseSnapshot(raw)
	if err != nil {
		return nil, err
	}
	return &StaticSource{snapshot: snap}, nil
}

// Load returns the static snapshot.
func (s *StaticSource) Load(ctx context.Context) (Snapshot, error) {
	return s.snapshot, nil
}

// FileSource reads a policy document from disk on every Load.
//
// YAML (and therefore JSON) documents are parsed with koanf; files ending in
// .toml are decoded with BurntSushi/toml. Both shapes are:
//
//	operations:
//	  getRecord: on
//	  updateRecord: 25
//	  closeRecord: forced_legacy
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the policy file path.
func (s *FileSource) Path() string { return s.path }

// Load reads and parses the policy file.
func (s *FileSource) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	content, err := readPolicyFile(s.path)
	if err != nil {
		return Snapshot{}, err
	}

	doc, err := decodePolicy(s.path, content)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rollout: parse %s: %w", s.path, err)
	}

	section, ok := doc[operationsKey]
	if !ok || section == nil {
		return Snapshot{}, nil
	}
	operations, ok := section.(map[string]interface{})
	if !ok {
		return Snapshot{}, fmt.Errorf("rollout: %s: %q must be a mapping, got %T", s.path, operationsKey, section)
	}

	snap, err := ParseSnapshot(operations)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rollout: %s: %w", s.path, err)
	}
	return snap, nil
}

// readPolicyFile opens path once and validates size through the open descriptor.
func readPolicyFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rollout: open policy file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("rollout: stat policy file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("rollout: policy path %s is a directory", path)
	}
	if info.Size() > maxPolicyFileSize {
		return nil, fmt.Errorf("rollout: policy file too large: %d bytes (max %d)", info.Size(), maxPolicyFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxPolicyFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("rollout: read policy file: %w", err)
	}
	return content, nil
}

func decodePolicy(path string, content []byte) (map[string]interface{}, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var doc map[string]interface{}
		if err := toml.Unmarshal(content, &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	// Operation names may contain dots, so use a delimiter that never appears in them.
	k := koanf.New("::")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, err
	}
	return k.Raw(), nil
}

// LayeredSource merges several sources; later sources override earlier ones.
// Any failing layer fails the whole load so a broken file never silently
// reverts operations to their defaults.
type LayeredSource struct {
	layers []Source
}

// NewLayeredSource stacks sources in precedence order, lowest first.
func NewLayeredSource(layers ...Source) *LayeredSource {
	return &LayeredSource{layers: layers}
}

// Load merges every layer.
func (l *LayeredSource) Load(ctx context.Context) (Snapshot, error) {
	merged := NewSnapshot(nil)
	for i, layer := range l.layers {
		snap, err := layer.Load(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("rollout: layer %d: %w", i, err)
		}
		merged = merged.Merge(snap)
	}
	return merged, nil
}
