package filestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("invalid object key")

// FileStore keeps media objects addressed by key, "<profile_id>/<name>".
type FileStore interface {
	// Save stores the object. It is idempotent: an existing object with the
	// same key is left untouched.
	Save(ctx context.Context, key string, r io.Reader, contentType string) error

	// Open returns the object content.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// URL returns the public URL clients fetch the object from.
	URL(key string) string
}

// CleanKey rejects keys that could escape the bucket.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
