package catalog

import "errors"

var (
	ErrAlbumNotFound   = errors.New("album not found")
	ErrPhotoNotFound   = errors.New("photo not found")
	ErrAlbumExists     = errors.New("album already exists")
	ErrPhotoExists     = errors.New("photo already exists")
	ErrPhotoNotInAlbum = errors.New("photo does not belong to album")
	ErrInvalidRecord   = errors.New("invalid record")
)
