// Package production provides production integrations: checkpoint
// persistence, transition publishing, visualization.
package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/comalice/fedsync/internal/core"
	"github.com/comalice/fedsync/internal/primitives"
)

// Checkpoint formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// fileStore writes one snapshot file per federate.
type fileStore struct {
	dir       string
	ext       string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

func newFileStore(dir, ext string, marshal func(any) ([]byte, error), unmarshal func([]byte, any) error) (fileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fileStore{}, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return fileStore{dir: dir, ext: ext, marshal: marshal, unmarshal: unmarshal}, nil
}

func (s fileStore) path(federate string) string {
	return filepath.Join(s.dir, federate+"."+s.ext)
}

func (s fileStore) save(ctx context.Context, snapshot core.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.Federate == "" {
		return fmt.Errorf("snapshot has no federate name: %w", primitives.ErrConfig)
	}

	data, err := s.marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%s marshal: %w", s.ext, err)
	}

	// write then rename so a crash never leaves a torn checkpoint
	fn := s.path(snapshot.Federate)
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (s fileStore) load(ctx context.Context, federate string) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}

	fn := s.path(federate)
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Snapshot{}, fmt.Errorf("checkpoint for federate %q: %w", federate, primitives.ErrNotFound)
		}
		return core.Snapshot{}, fmt.Errorf("read %s: %w", fn, err)
	}

	var snapshot core.Snapshot
	if err := s.unmarshal(data, &snapshot); err != nil {
		return core.Snapshot{}, fmt.Errorf("%s unmarshal %s: %w", s.ext, fn, err)
	}
	snapshot.Federate = federate
	if err := snapshot.Validate(); err != nil {
		return core.Snapshot{}, fmt.Errorf("snapshot validation after load: %w", err)
	}
	return snapshot, nil
}

// JSONPersister is a file-based core.Persister using JSON serialization.
type JSONPersister struct {
	store fileStore
}

// NewJSONPersister creates a JSONPersister, ensuring the directory exists.
func NewJSONPersister(dir string) (*JSONPersister, error) {
	store, err := newFileStore(dir, FormatJSON, func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}, json.Unmarshal)
	if err != nil {
		return nil, err
	}
	return &JSONPersister{store: store}, nil
}

func (p *JSONPersister) Save(ctx context.Context, snapshot core.Snapshot) error {
	return p.store.save(ctx, snapshot)
}

func (p *JSONPersister) Load(ctx context.Context, federate string) (core.Snapshot, error) {
	return p.store.load(ctx, federate)
}

// YAMLPersister is a file-based core.Persister using YAML serialization.
type YAMLPersister struct {
	store fileStore
}

// NewYAMLPersister creates a YAMLPersister, ensuring the directory exists.
func NewYAMLPersister(dir string) (*YAMLPersister, error) {
	store, err := newFileStore(dir, FormatYAML, yaml.Marshal, yaml.Unmarshal)
	if err != nil {
		return nil, err
	}
	return &YAMLPersister{store: store}, nil
}

func (p *YAMLPersister) Save(ctx context.Context, snapshot core.Snapshot) error {
	return p.store.save(ctx, snapshot)
}

func (p *YAMLPersister) Load(ctx context.Context, federate string) (core.Snapshot, error) {
	return p.store.load(ctx, federate)
}

// NewPersister returns the persister selected by cfg, or nil when no
// checkpoint directory is configured. The format defaults to JSON.
func NewPersister(cfg primitives.CheckpointConfig) (core.Persister, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		return NewJSONPersister(cfg.Dir)
	case FormatYAML:
		return NewYAMLPersister(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown checkpoint format %q: %w", cfg.Format, primitives.ErrConfig)
	}
}
