package store

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"canonical-go/internal/canonical"
)

// FileSystemStore is a filesystem-based implementation of the
// ResourceStore interface. Keys map directly onto paths under the root,
// so the on-disk layout mirrors the canonical key grammar:
//
//	<root>/
//	  e-prints/<YYYY>/<MM>/...
//	  announcement/<YYYY>/<MM>/<DD>/...
//	  suppress/...
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: store root not accessible: %v", canonical.ErrBackendUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store root is not a directory: %s", root)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put stores data under key with write-once semantics. If the key already
// exists the stored bytes are compared: identical content succeeds
// silently, different content fails with ErrConflict.
func (s *FileSystemStore) Put(_ context.Context, key string, data []byte) (string, error) {
	destPath := s.path(key)

	existing, err := os.ReadFile(destPath)
	if err == nil {
		if !bytes.Equal(existing, data) {
			return "", fmt.Errorf("%w: key %s already holds different content", canonical.ErrConflict, key)
		}
		return sha256Hex(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("%w: reading %s: %v", canonical.ErrBackendUnavailable, key, err)
	}

	if err := s.writeFile(destPath, data); err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

// Update overwrites key unconditionally. Reserved for unsealed listing
// shard files.
func (s *FileSystemStore) Update(_ context.Context, key string, data []byte) error {
	return s.writeFile(s.path(key), data)
}

// Get retrieves the bytes stored under key.
func (s *FileSystemStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", canonical.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", canonical.ErrBackendUnavailable, key, err)
	}
	return data, nil
}

// Exists reports whether key is present.
func (s *FileSystemStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %v", canonical.ErrBackendUnavailable, key, err)
}

// ListPrefix walks the directory containing the prefix and calls fn for
// each matching key in lexicographic order.
func (s *FileSystemStore) ListPrefix(_ context.Context, prefix string, fn func(key string) error) error {
	// Walk only the deepest directory implied by the prefix.
	dirPart := prefix
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dirPart = prefix[:i]
	} else {
		dirPart = ""
	}
	walkRoot := filepath.Join(s.root, filepath.FromSlash(dirPart))

	var keys []string
	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // nothing under this prefix
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: listing %s: %v", canonical.ErrBackendUnavailable, prefix, err)
	}

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// writeFile writes data to the specified path using atomic write (temp
// file + rename), so readers never observe a partially written resource.
func (s *FileSystemStore) writeFile(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", canonical.ErrBackendUnavailable, dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", canonical.ErrBackendUnavailable, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("%w: writing data: %v", canonical.ErrBackendUnavailable, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", canonical.ErrBackendUnavailable, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("%w: renaming temp file: %v", canonical.ErrBackendUnavailable, err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements the ResourceStore interface
var _ canonical.ResourceStore = (*FileSystemStore)(nil)
