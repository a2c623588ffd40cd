package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ObjectStore is the blob storage collaborator: short-lived read URLs,
// uploads and removal of temporary artifacts.
type ObjectStore interface {
	SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
	Upload(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// LocalStore implements ObjectStore over a directory. Used for development
// and tests; "signed" read URLs are plain absolute paths.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the directory-backed store.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (ls *LocalStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(ls.baseDir, clean), nil
}

// SignedReadURL returns the absolute file path. The ttl is ignored, local
// files do not expire.
func (ls *LocalStore) SignedReadURL(_ context.Context, path string, _ time.Duration) (string, error) {
	full, err := ls.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("object %q not found: %w", path, err)
	}
	return full, nil
}

// Upload writes the blob under the base directory.
func (ls *LocalStore) Upload(_ context.Context, path string, data []byte) error {
	full, err := ls.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("failed to write object %q: %w", path, err)
	}
	return nil
}

// Delete removes the blob. Removing a missing blob is not an error.
func (ls *LocalStore) Delete(_ context.Context, path string) error {
	full, err := ls.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %q: %w", path, err)
	}
	return nil
}
