// Package localfs provides a directory-backed workflow.FileStore for running
// the dashboard against a checked-out repository.
package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/playsafesec/upgradeboard/internal/workflow"
)

// Store reads and writes files below a root directory. Versions are the
// sha256 of the file content.
type Store struct {
	root string
	mu   sync.Mutex
}

var _ workflow.FileStore = (*Store)(nil)

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// resolve maps a slash path to a file under root, rejecting escapes.
func (s *Store) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path not allowed: %s", path)
	}
	return filepath.Join(s.root, clean), nil
}

// GetFile returns the content and version of path.
func (s *Store) GetFile(ctx context.Context, path string) ([]byte, string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%s: %w", path, workflow.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, version(data), nil
}

// PutFile writes content when version matches the file on disk. An empty
// version only succeeds if the file does not exist yet.
func (s *Store) PutFile(ctx context.Context, path string, content []byte, ver, message string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if ver != "" {
			return fmt.Errorf("put %s: %w", path, workflow.ErrVersionConflict)
		}
	case err != nil:
		return fmt.Errorf("read %s: %w", path, err)
	case version(current) != ver:
		return fmt.Errorf("put %s: %w", path, workflow.ErrVersionConflict)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upgradeboard-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func version(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
