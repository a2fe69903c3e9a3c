// Package local stores artifacts on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slok/satdl/internal/artifact"
	"github.com/slok/satdl/internal/log"
)

// StoreConfig is the configuration of the local store.
type StoreConfig struct {
	// Root is the directory where artifacts are written.
	Root   string
	Logger log.Logger
}

func (c *StoreConfig) defaults() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "artifact.Local"})
	return nil
}

// Store is a filesystem artifact.Store. References are absolute file paths.
type Store struct {
	root   string
	logger log.Logger
}

var _ artifact.Store = &Store{}

// NewStore returns a new local store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid root: %w", err)
	}

	return &Store{root: root, logger: cfg.Logger}, nil
}

func (s *Store) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return p, nil
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("could not create artifact dir: %w", err)
	}

	// Write and rename so readers never see partial artifacts.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("could not write artifact: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("could not store artifact: %w", err)
	}

	s.logger.Debugf("Stored artifact %s (%s, %d bytes)", p, contentType, len(data))
	return p, nil
}

// DeletePrefix implements artifact.Store.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	p, err := s.path(prefix)
	if err != nil {
		return err
	}
	if p == s.root {
		return fmt.Errorf("refusing to delete the store root")
	}

	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("could not delete artifacts: %w", err)
	}
	return nil
}
