package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tdeslauriers/portfolio/internal/util"
)

const tmpPrefix = ".tmp-"

// NewLocalStore creates a filesystem store rooted at dir, creating it if needed.
func NewLocalStore(dir string) (Store, error) {

	if dir == "" {
		return nil, fmt.Errorf("local store root directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local store root %s: %v", dir, err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local store root %s: %v", abs, err)
	}

	return &localStore{
		root: abs,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageStorage)).
			With(slog.String(util.ComponentKey, util.ComponentLocalStore)),
	}, nil
}

var _ Store = (*localStore)(nil)

type localStore struct {
	root string

	logger *slog.Logger
}

func (s *localStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes to a temp file in the target directory and renames it into place,
// so readers never see a partially written rendition.
func (s *localStore) Put(ctx context.Context, key string, data []byte, contentType string) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %v", key, err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %v", key, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %v", key, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %v", key, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %v", key, err)
	}

	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to move %s into place: %v", key, err)
	}

	s.logger.Debug(fmt.Sprintf("wrote %s (%d bytes)", key, len(data)))

	return nil
}

func (s *localStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {

	p, err := s.path(key)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open %s: %v", key, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat %s: %v", key, err)
	}

	if fi.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}

	return f, s.info(key, fi), nil
}

func (s *localStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {

	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %v", key, err)
	}

	if fi.IsDir() {
		return nil, ErrNotFound
	}

	return s.info(key, fi), nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {

	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %v", key, err)
	}

	return nil
}

func (s *localStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {

	var objects []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			// removed while walking
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		objects = append(objects, *s.info(key, fi))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list local store with prefix %q: %w", prefix, err)
	}

	return objects, nil
}

func (s *localStore) Backend() string { return "local" }

func (s *localStore) info(key string, fi fs.FileInfo) *ObjectInfo {
	ct, _ := ContentTypeFor(key)
	return &ObjectInfo{
		Key:         key,
		Size:        fi.Size(),
		ModTime:     fi.ModTime(),
		ContentType: ct,
	}
}
