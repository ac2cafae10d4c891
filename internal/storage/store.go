// Package storage holds the addressable file store that rendition buffers are written to
// and served from. Keys are slash separated and relative to the store root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no object exists for a key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for empty, absolute or traversing keys.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Store is the interface for rendition file storage.
type Store interface {

	// Put writes the object, replacing any previous content.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// Stat returns the object's info without opening it.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Backend names the implementation, eg "local" or "minio".
	Backend() string
}

// ValidateKey rejects keys that could escape the store root.
func ValidateKey(key string) error {

	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	if strings.Contains(key, "\\") || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	}

	return nil
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ContentTypeFor returns the image mime type for the key's extension, and false when the
// extension is not a servable image type.
func ContentTypeFor(key string) (string, bool) {
	ct, ok := contentTypes[strings.ToLower(path.Ext(key))]
	return ct, ok
}

// DeleteAll removes every key, returning the joined errors of the deletes that failed.
func DeleteAll(ctx context.Context, s Store, keys ...string) error {

	var errs []error
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := s.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", k, err))
		}
	}

	return errors.Join(errs...)
}
