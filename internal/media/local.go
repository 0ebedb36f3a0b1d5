package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore serves media from the local filesystem. Relative references are
// resolved under root and may not escape it. Absolute paths are read in
// place only when they fall under root or a directory passed to AllowRoot,
// which is how folder ingestion references its files.
type FileStore struct {
	root string

	mu      sync.RWMutex
	allowed []string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: failed to create %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media: failed to resolve %s: %w", root, err)
	}
	return &FileStore{root: root, allowed: []string{canonical(abs)}}, nil
}

// AllowRoot lets absolute references under dir be read in place.
func (s *FileStore) AllowRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("media: failed to resolve %s: %w", dir, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed = append(s.allowed, canonical(abs))
	return nil
}

// Root returns the directory uploads are written to.
func (s *FileStore) Root() string {
	return s.root
}

// Resolve reads the referenced file.
func (s *FileStore) Resolve(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("media: failed to read %s: %w", ref, err)
	}

	return data, nil
}

// Put writes data under root with a fresh name and returns the relative
// reference. name only contributes its extension.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	ref := objectName(name)
	path := filepath.Join(s.root, ref)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("media: failed to write %s: %w", ref, err)
	}

	return ref, nil
}

func (s *FileStore) path(ref string) (string, error) {
	ref = strings.TrimPrefix(ref, "file://")
	if ref == "" {
		return "", ErrInvalidRef
	}

	if filepath.IsAbs(ref) {
		path := filepath.Clean(ref)
		if !s.isAllowed(path) {
			return "", fmt.Errorf("%w: %q is outside the allowed media roots", ErrInvalidRef, ref)
		}
		return path, nil
	}

	path := filepath.Join(s.root, ref)
	if !within(s.root, path) {
		return "", fmt.Errorf("%w: %q escapes media root", ErrInvalidRef, ref)
	}

	return path, nil
}

func (s *FileStore) isAllowed(path string) bool {
	path = canonical(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, dir := range s.allowed {
		if within(dir, path) {
			return true
		}
	}
	return false
}

// canonical resolves symlinks so a link inside an allowed root cannot point
// outside it. A missing file is resolved through its parent directory.
func canonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	return filepath.Clean(path)
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
