package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FS is a filesystem-backed Store for one-shot CLI mode.
type FS struct {
	root string
}

// NewFS creates a blob store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FS{root: dir}, nil
}

// Get returns the object bytes for a key.
func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Put stores the object bytes under the key.
func (f *FS) Put(_ context.Context, key string, data []byte, _ string) error {
	path := f.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// PresignedURL is unsupported for the filesystem store.
func (f *FS) PresignedURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", nil
}

// Path returns the filesystem path backing a key.
func (f *FS) Path(key string) string {
	return f.path(key)
}

func (f *FS) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key)+".pdf")
}
