package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileStore implements FileStore using the local filesystem.
// Objects are served by the API server under urlPrefix.
type LocalFileStore struct {
	root      string
	urlPrefix string
}

func NewLocalFileStore(root, urlPrefix string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *LocalFileStore) getPath(key string) (string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalFileStore) Save(_ context.Context, key string, r io.Reader, _ string) error {
	path, err := s.getPath(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to a temporary file first so readers never see partial objects.
	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

func (s *LocalFileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.getPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalFileStore) URL(key string) string {
	return s.urlPrefix + "/" + key
}
