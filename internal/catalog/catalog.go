// Package catalog is the durable store of album and photo records. It knows nothing about
// rendition files: records carry storage-relative keys only.
package catalog

import (
	"context"

	"github.com/tdeslauriers/portfolio/pkg/api"
)

// Catalog is the interface for album and photo persistence.
//
// Getters return ErrAlbumNotFound / ErrPhotoNotFound for missing records. Mutations that
// return a bool report false when the target record does not exist.
type Catalog interface {

	// CreateAlbum persists the album and any photos it carries in one transaction.
	// The album's cover defaults to its first photo. Returns the album id.
	CreateAlbum(ctx context.Context, album api.AlbumRecord) (string, error)

	// GetAlbumById returns the album with its photos, oldest first.
	GetAlbumById(ctx context.Context, id string) (*api.AlbumRecord, error)

	// GetAllAlbums returns every album without photos, newest first.
	GetAllAlbums(ctx context.Context) ([]api.AlbumRecord, error)

	// UpdateAlbum applies a partial update.
	UpdateAlbum(ctx context.Context, id string, cmd api.AlbumUpdateCmd) (bool, error)

	// DeleteAlbum removes the album and every photo it owns, all or nothing.
	DeleteAlbum(ctx context.Context, id string) (bool, error)

	// AddPhotos appends photos to an existing album and recomputes its photo count.
	// Photos without an id are assigned one. Returns the ids in input order.
	AddPhotos(ctx context.Context, albumId string, photos []api.PhotoRecord) ([]string, error)

	// GetPhoto returns a single photo record.
	GetPhoto(ctx context.Context, id string) (*api.PhotoRecord, error)

	// UpdatePhoto applies a partial update to a photo's descriptive fields.
	// Rendition keys cannot be changed.
	UpdatePhoto(ctx context.Context, id string, cmd api.PhotoUpdateCmd) (bool, error)

	// DeletePhoto removes a photo, recomputes its album's count and moves the cover
	// if it pointed at the photo. Returns the album id the photo belonged to.
	DeletePhoto(ctx context.Context, id string) (string, error)

	// UpdateCover points the album's cover at one of its own photos.
	UpdateCover(ctx context.Context, albumId, photoId string) (bool, error)

	// PhotoExists reports whether a photo record exists.
	PhotoExists(ctx context.Context, id string) (bool, error)

	// Counts returns the number of albums and photos.
	Counts(ctx context.Context) (albums int, photos int, err error)
}
