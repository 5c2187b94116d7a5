package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps scanned label images and hands back a reference to persist
type Store interface {
	Save(ctx context.Context, id string, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

// LocalStore writes images under a directory on disk
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Save writes the image as <dir>/<id>.jpg and returns that path
func (s *LocalStore) Save(ctx context.Context, id string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid image id %q", id)
	}
	path := filepath.Join(s.dir, id+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}

// Delete removes an image written by Save. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	rel, err := filepath.Rel(s.dir, ref)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("image ref %q is outside %s", ref, s.dir)
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}
