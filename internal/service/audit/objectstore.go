package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

// ObjectStore holds archived chain segments.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FSObjectStore keeps objects as files under a root directory.
type FSObjectStore struct {
	root string
}

func NewFSObjectStore(root string) (*FSObjectStore, error) {
	if root == "" {
		return nil, errors.New("archive directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("NewFSObjectStore: %w", err)
	}
	return &FSObjectStore{root: root}, nil
}

// Put writes data atomically; readers never see a partial object.
func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("Put: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("Put: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("Put: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Put: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("Put: rename: %w", err)
	}
	return nil
}

func (s *FSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Get: %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return data, nil
}

func (s *FSObjectStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
