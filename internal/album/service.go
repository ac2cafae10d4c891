// Package album is the album and photo service: catalog reads and writes, rendition file
// cleanup after deletes, and the REST handlers over them.
package album

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/static"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

var (
	// ErrRenditionMissing is returned when a photo handed to the service points at a file
	// that is not in the store.
	ErrRenditionMissing = errors.New("rendition file not found")

	// ErrImmutableField is returned when an update tries to change a rendition key or id.
	ErrImmutableField = errors.New("field cannot be updated")
)

// Filter narrows an album listing. Zero values match everything.
type Filter struct {
	Category api.Category
	Featured bool
}

// Service is the interface for album and photo management.
type Service interface {

	// GetAlbums returns the matching albums, newest first, without photos.
	GetAlbums(ctx context.Context, f Filter) ([]api.Album, error)

	// GetAlbum returns an album with its photos.
	GetAlbum(ctx context.Context, id string) (*api.Album, error)

	// CreateAlbum creates an album, optionally with photos returned by an earlier upload.
	CreateAlbum(ctx context.Context, cmd api.AddAlbumCmd) (*api.Album, error)

	// UpdateAlbum applies a partial update and returns the updated album.
	UpdateAlbum(ctx context.Context, id string, cmd api.AlbumUpdateCmd) (*api.Album, error)

	// DeleteAlbum removes the album, its photos and their rendition files.
	DeleteAlbum(ctx context.Context, id string) error

	// SetCover points the album's cover at one of its photos.
	SetCover(ctx context.Context, albumId, photoId string) (*api.Album, error)

	// AddPhotos appends uploaded photos to an album, returning their ids.
	AddPhotos(ctx context.Context, albumId string, photos []api.PhotoRecord) ([]string, error)

	// GetPhoto returns a single photo.
	GetPhoto(ctx context.Context, id string) (*api.Photo, error)

	// UpdatePhoto applies a partial update to a photo's descriptive fields.
	UpdatePhoto(ctx context.Context, id string, cmd api.PhotoUpdateCmd) (*api.Photo, error)

	// DeletePhoto removes a photo and its rendition files, returning its album id.
	DeletePhoto(ctx context.Context, id string) (string, error)
}

// NewService creates a new album service, returning a pointer to the concrete implementation.
func NewService(c catalog.Catalog, s storage.Store, urls static.Resolver) Service {
	return &service{
		catalog: c,
		store:   s,
		urls:    urls,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageAlbum)).
			With(slog.String(util.ComponentKey, util.ComponentAlbumService)),
	}
}

var _ Service = (*service)(nil)

type service struct {
	catalog catalog.Catalog
	store   storage.Store
	urls    static.Resolver

	logger *slog.Logger
}

// GetAlbums is the concrete implementation of the interface method.
func (s *service) GetAlbums(ctx context.Context, f Filter) ([]api.Album, error) {

	records, err := s.catalog.GetAllAlbums(ctx)
	if err != nil {
		return nil, err
	}

	albums := make([]api.Album, 0, len(records))
	for i := range records {
		if f.Category != "" && records[i].Category != f.Category {
			continue
		}
		if f.Featured && !records[i].Featured {
			continue
		}
		albums = append(albums, records[i].View(s.urls.URL))
	}

	return albums, nil
}

// GetAlbum is the concrete implementation of the interface method.
func (s *service) GetAlbum(ctx context.Context, id string) (*api.Album, error) {

	record, err := s.catalog.GetAlbumById(ctx, id)
	if err != nil {
		return nil, err
	}

	album := record.View(s.urls.URL)
	if album.Photos == nil {
		album.Photos = []api.Photo{}
	}

	return &album, nil
}

// CreateAlbum is the concrete implementation of the interface method.
func (s *service) CreateAlbum(ctx context.Context, cmd api.AddAlbumCmd) (*api.Album, error) {

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrInvalidRecord, err)
	}

	if err := s.verifyRenditions(ctx, cmd.Photos); err != nil {
		return nil, err
	}

	id, err := s.catalog.CreateAlbum(ctx, cmd.Record())
	if err != nil {
		return nil, err
	}

	s.logger.Info(fmt.Sprintf("created album %s with %d photos", id, len(cmd.Photos)))

	return s.GetAlbum(ctx, id)
}

// UpdateAlbum is the concrete implementation of the interface method.
func (s *service) UpdateAlbum(ctx context.Context, id string, cmd api.AlbumUpdateCmd) (*api.Album, error) {

	updated, err := s.catalog.UpdateAlbum(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s", catalog.ErrAlbumNotFound, id)
	}

	return s.GetAlbum(ctx, id)
}

// DeleteAlbum is the concrete implementation of the interface method.
// Files are removed only after the catalog transaction commits: a failed file delete
// leaves an orphan for the sweep, never a catalog row pointing at nothing.
func (s *service) DeleteAlbum(ctx context.Context, id string) error {

	record, err := s.catalog.GetAlbumById(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.catalog.DeleteAlbum(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s", catalog.ErrAlbumNotFound, id)
	}

	var keys []string
	for i := range record.Photos {
		keys = append(keys, record.Photos[i].Keys()...)
	}
	s.removeFiles(ctx, keys)

	s.logger.Info(fmt.Sprintf("deleted album %s and %d photos", id, len(record.Photos)))

	return nil
}

// SetCover is the concrete implementation of the interface method.
func (s *service) SetCover(ctx context.Context, albumId, photoId string) (*api.Album, error) {

	updated, err := s.catalog.UpdateCover(ctx, albumId, photoId)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s", catalog.ErrAlbumNotFound, albumId)
	}

	return s.GetAlbum(ctx, albumId)
}

// AddPhotos is the concrete implementation of the interface method.
func (s *service) AddPhotos(ctx context.Context, albumId string, photos []api.PhotoRecord) ([]string, error) {

	if len(photos) == 0 {
		return nil, fmt.Errorf("%w: no photos to add", catalog.ErrInvalidRecord)
	}

	for i := range photos {
		if err := photos[i].ValidateKeys(); err != nil {
			return nil, fmt.Errorf("%w: %v", catalog.ErrInvalidRecord, err)
		}
	}

	if err := s.verifyRenditions(ctx, photos); err != nil {
		return nil, err
	}

	return s.catalog.AddPhotos(ctx, albumId, photos)
}

// GetPhoto is the concrete implementation of the interface method.
func (s *service) GetPhoto(ctx context.Context, id string) (*api.Photo, error) {

	record, err := s.catalog.GetPhoto(ctx, id)
	if err != nil {
		return nil, err
	}

	photo := record.View(s.urls.URL)
	return &photo, nil
}

// UpdatePhoto is the concrete implementation of the interface method.
func (s *service) UpdatePhoto(ctx context.Context, id string, cmd api.PhotoUpdateCmd) (*api.Photo, error) {

	updated, err := s.catalog.UpdatePhoto(ctx, id, cmd)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s", catalog.ErrPhotoNotFound, id)
	}

	return s.GetPhoto(ctx, id)
}

// DeletePhoto is the concrete implementation of the interface method.
func (s *service) DeletePhoto(ctx context.Context, id string) (string, error) {

	record, err := s.catalog.GetPhoto(ctx, id)
	if err != nil {
		return "", err
	}

	albumId, err := s.catalog.DeletePhoto(ctx, id)
	if err != nil {
		return "", err
	}

	s.removeFiles(ctx, record.Keys())

	s.logger.Info(fmt.Sprintf("deleted photo %s from album %s", id, albumId))

	return albumId, nil
}

// verifyRenditions checks concurrently that every rendition of every photo is in the store.
func (s *service) verifyRenditions(ctx context.Context, photos []api.PhotoRecord) error {

	var wg sync.WaitGroup
	errCh := make(chan error, 4*len(photos))

	for i := range photos {
		for _, key := range photos[i].Keys() {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				if _, err := s.store.Stat(ctx, key); err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						errCh <- fmt.Errorf("%w: %s", ErrRenditionMissing, key)
						return
					}
					errCh <- fmt.Errorf("failed to stat %s: %v", key, err)
				}
			}(key)
		}
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for e := range errCh {
		errs = append(errs, e)
	}

	return errors.Join(errs...)
}

// removeFiles deletes rendition files after a catalog delete has committed.
// Failures are logged only: the sweep reconciles what is left behind.
func (s *service) removeFiles(ctx context.Context, keys []string) {
	if err := storage.DeleteAll(context.WithoutCancel(ctx), s.store, keys...); err != nil {
		s.logger.Error("failed to remove rendition files, leaving them for the sweep", "err", err.Error())
	}
}
