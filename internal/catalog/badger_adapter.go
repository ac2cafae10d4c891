package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

const (
	albumPrefix = "album/"
	photoPrefix = "photo/"
	indexPrefix = "album_photo/"

	// attempts for a transaction that loses a write conflict
	maxTxnAttempts = 3
)

// photo ids end up inside keys, so they must not contain separators
var photoIdPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// OpenDb opens the badger database backing the catalog. An in-memory database ignores path.
func OpenDb(path string, inMemory bool) (*badger.DB, error) {

	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if path == "" {
		return nil, fmt.Errorf("catalog path is required for an on-disk catalog")
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog db: %v", err)
	}

	return db, nil
}

// NewCatalog creates a catalog backed by the badger db, returning a pointer to the concrete implementation.
func NewCatalog(db *badger.DB, rec metrics.Recorder) Catalog {

	if rec == nil {
		rec = metrics.Noop()
	}

	return &badgerCatalog{
		db:  db,
		rec: rec,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageCatalog)).
			With(slog.String(util.ComponentKey, util.ComponentCatalog)),
	}
}

var _ Catalog = (*badgerCatalog)(nil)

type badgerCatalog struct {
	db  *badger.DB
	rec metrics.Recorder

	logger *slog.Logger
}

func albumKey(id string) []byte { return []byte(albumPrefix + id) }
func photoKey(id string) []byte { return []byte(photoPrefix + id) }

func albumIndexPrefix(albumId string) []byte { return []byte(indexPrefix + albumId + "/") }

func indexKey(albumId, photoId string) []byte {
	return []byte(indexPrefix + albumId + "/" + photoId)
}

// CreateAlbum is the concrete implementation of the interface method.
func (c *badgerCatalog) CreateAlbum(ctx context.Context, album api.AlbumRecord) (id string, err error) {

	defer func() { c.observe("create_album", err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := album.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if album.Id == "" {
		generated, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("failed to generate album id: %v", err)
		}
		album.Id = generated.String()
	}

	photos := album.Photos
	album.Photos = nil

	err = c.update(func(txn *badger.Txn) error {

		exists, err := keyExists(txn, albumKey(album.Id))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAlbumExists, album.Id)
		}

		now := time.Now().UTC()
		if album.CreatedAt.IsZero() {
			album.CreatedAt = now
		}
		album.UpdatedAt = now

		written, err := putPhotos(txn, album.Id, photos, now)
		if err != nil {
			return err
		}

		album.PhotoCount = len(written)
		if album.CoverPhotoId != "" {
			cover := findPhoto(written, album.CoverPhotoId)
			if cover == nil {
				return fmt.Errorf("%w: cover %s", ErrPhotoNotInAlbum, album.CoverPhotoId)
			}
			album.CoverImage = cover.Src
		} else if len(written) > 0 {
			album.CoverPhotoId = written[0].Id
			album.CoverImage = written[0].Src
		}

		return setJson(txn, albumKey(album.Id), album)
	})
	if err != nil {
		return "", err
	}

	c.logger.Info(fmt.Sprintf("created album %s with %d photos", album.Id, len(photos)))

	return album.Id, nil
}

// GetAlbumById is the concrete implementation of the interface method.
func (c *badgerCatalog) GetAlbumById(ctx context.Context, id string) (*api.AlbumRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var album api.AlbumRecord
	err := c.db.View(func(txn *badger.Txn) error {

		if err := getJson(txn, albumKey(id), &album); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrAlbumNotFound, id)
			}
			return err
		}

		photos, err := albumPhotos(txn, id)
		if err != nil {
			return err
		}
		album.Photos = photos

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &album, nil
}

// GetAllAlbums is the concrete implementation of the interface method.
func (c *badgerCatalog) GetAllAlbums(ctx context.Context) ([]api.AlbumRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var albums []api.AlbumRecord
	err := c.db.View(func(txn *badger.Txn) error {

		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(albumPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var a api.AlbumRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("failed to decode album %s: %v", it.Item().Key(), err)
			}
			albums = append(albums, a)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(albums, func(i, j int) bool {
		if albums[i].CreatedAt.Equal(albums[j].CreatedAt) {
			return albums[i].Id > albums[j].Id
		}
		return albums[i].CreatedAt.After(albums[j].CreatedAt)
	})

	return albums, nil
}

// UpdateAlbum is the concrete implementation of the interface method.
func (c *badgerCatalog) UpdateAlbum(ctx context.Context, id string, cmd api.AlbumUpdateCmd) (updated bool, err error) {

	defer func() { c.observe("update_album", err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	err = c.update(func(txn *badger.Txn) error {

		updated = false

		var album api.AlbumRecord
		if err := getJson(txn, albumKey(id), &album); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		if cmd.Title != nil {
			album.Title = strings.TrimSpace(*cmd.Title)
		}
		if cmd.Description != nil {
			album.Description = strings.TrimSpace(*cmd.Description)
		}
		if cmd.Category != nil {
			album.Category = *cmd.Category
		}
		if cmd.Featured != nil {
			album.Featured = *cmd.Featured
		}
		if cmd.Location != nil {
			album.Location = strings.TrimSpace(*cmd.Location)
		}
		album.UpdatedAt = time.Now().UTC()

		if err := setJson(txn, albumKey(id), album); err != nil {
			return err
		}

		updated = true
		return nil
	})

	return updated, err
}

// DeleteAlbum is the concrete implementation of the interface method.
func (c *badgerCatalog) DeleteAlbum(ctx context.Context, id string) (deleted bool, err error) {

	defer func() { c.observe("delete_album", err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	var removed int
	err = c.update(func(txn *badger.Txn) error {

		deleted = false

		exists, err := keyExists(txn, albumKey(id))
		if err != nil || !exists {
			return err
		}

		ids, err := photoIds(txn, id)
		if err != nil {
			return err
		}

		for _, pid := range ids {
			if err := txn.Delete(photoKey(pid)); err != nil {
				return err
			}
			if err := txn.Delete(indexKey(id, pid)); err != nil {
				return err
			}
		}

		if err := txn.Delete(albumKey(id)); err != nil {
			return err
		}

		removed = len(ids)
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		c.logger.Info(fmt.Sprintf("deleted album %s and %d photos", id, removed))
	}

	return deleted, nil
}

// AddPhotos is the concrete implementation of the interface method.
func (c *badgerCatalog) AddPhotos(ctx context.Context, albumId string, photos []api.PhotoRecord) (ids []string, err error) {

	defer func() { c.observe("add_photos", err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(photos) == 0 {
		return nil, fmt.Errorf("%w: no photos to add", ErrInvalidRecord)
	}

	err = c.update(func(txn *badger.Txn) error {

		var album api.AlbumRecord
		if err := getJson(txn, albumKey(albumId), &album); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrAlbumNotFound, albumId)
			}
			return err
		}

		now := time.Now().UTC()
		added, err := putPhotos(txn, albumId, photos, now)
		if err != nil {
			return err
		}

		if err := recount(txn, &album); err != nil {
			return err
		}

		if album.CoverPhotoId == "" {
			album.CoverPhotoId = added[0].Id
			album.CoverImage = added[0].Src
		}
		album.UpdatedAt = now

		if err := setJson(txn, albumKey(albumId), album); err != nil {
			return err
		}

		ids = make([]string, len(added))
		for i := range added {
			ids[i] = added[i].Id
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info(fmt.Sprintf("added %d photos to album %s", len(ids), albumId))

	return ids, nil
}

// GetPhoto is the concrete implementation of the interface method.
func (c *badgerCatalog) GetPhoto(ctx context.Context, id string) (*api.PhotoRecord, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var photo api.PhotoRecord
	err := c.db.View(func(txn *badger.Txn) error {
		return getJson(txn, photoKey(id), &photo)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
		}
		return nil, err
	}

	return &photo, nil
}

// UpdatePhoto is the concrete implementation of the interface method.
func (c *badgerCatalog) UpdatePhoto(ctx context.Context, id string, cmd api.PhotoUpdateCmd) (updated bool, err error) {

	defer func() { c.observe("update_photo", err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := cmd.Validate(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	err = c.update(func(txn *badger.Txn) error {

		updated = false

		var photo api.PhotoRecord
		if err := getJson(txn, photoKey(id), &photo); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		if cmd.Title != nil {
			photo.Title = strings.TrimSpace(*cmd.Title)
		}
		if cmd.Description != nil {
			photo.Description = strings.TrimSpace(*cmd.Description)
		}
		if cmd.Location != nil {
			photo.Location = strings.TrimSpace(*cmd.Location)
		}
		if cmd.Alt != nil {
			photo.Alt = strings.TrimSpace(*cmd.Alt)
		}
		if cmd.Camera != nil {
			photo.Camera = strings.TrimSpace(*cmd.Camera)
		}
		if cmd.Settings != nil {
			photo.Settings = strings.TrimSpace(*cmd.Settings)
		}
		if cmd.Tags != nil {
			photo.Tags = normalizeTags(*cmd.Tags)
		}

		if err := setJson(txn, photoKey(id), photo); err != nil {
			return err
		}

		updated = true
		return nil
	})

	return updated, err
}

// DeletePhoto is the concrete implementation of the interface method.
func (c *badgerCatalog) DeletePhoto(ctx context.Context, id string) (albumId string, err error) {

	defer func() { c.observe("delete_photo", err) }()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	err = c.update(func(txn *badger.Txn) error {

		var photo api.PhotoRecord
		if err := getJson(txn, photoKey(id), &photo); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrPhotoNotFound, id)
			}
			return err
		}
		albumId = photo.AlbumId

		if err := txn.Delete(photoKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(photo.AlbumId, id)); err != nil {
			return err
		}

		var album api.AlbumRecord
		if err := getJson(txn, albumKey(photo.AlbumId), &album); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		remaining, err := albumPhotos(txn, album.Id)
		if err != nil {
			return err
		}
		album.PhotoCount = len(remaining)

		// the cover falls back to the oldest remaining photo
		if album.CoverPhotoId == id {
			album.CoverPhotoId, album.CoverImage = "", ""
			if len(remaining) > 0 {
				album.CoverPhotoId = remaining[0].Id
				album.CoverImage = remaining[0].Src
			}
		}
		album.UpdatedAt = time.Now().UTC()

		return setJson(txn, albumKey(album.Id), album)
	})
	if err != nil {
		return "", err
	}

	return albumId, nil
}

// UpdateCover is the concrete implementation of the interface method.
func (c *badgerCatalog) UpdateCover(ctx context.Context, albumId, photoId string) (updated bool, err error) {

	defer func() { c.observe("update_cover", err) }()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	err = c.update(func(txn *badger.Txn) error {

		updated = false

		var album api.AlbumRecord
		if err := getJson(txn, albumKey(albumId), &album); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		var photo api.PhotoRecord
		if err := getJson(txn, photoKey(photoId), &photo); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: photo %s not found", ErrPhotoNotInAlbum, photoId)
			}
			return err
		}

		if photo.AlbumId != albumId {
			return fmt.Errorf("%w: photo %s belongs to album %s", ErrPhotoNotInAlbum, photoId, photo.AlbumId)
		}

		album.CoverPhotoId = photo.Id
		album.CoverImage = photo.Src
		album.UpdatedAt = time.Now().UTC()

		if err := setJson(txn, albumKey(albumId), album); err != nil {
			return err
		}

		updated = true
		return nil
	})

	return updated, err
}

// PhotoExists is the concrete implementation of the interface method.
func (c *badgerCatalog) PhotoExists(ctx context.Context, id string) (bool, error) {

	if err := ctx.Err(); err != nil {
		return false, err
	}

	var exists bool
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = keyExists(txn, photoKey(id))
		return err
	})

	return exists, err
}

// Counts is the concrete implementation of the interface method.
func (c *badgerCatalog) Counts(ctx context.Context) (albums int, photos int, err error) {

	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	err = c.db.View(func(txn *badger.Txn) error {
		albums = countPrefix(txn, []byte(albumPrefix))
		photos = countPrefix(txn, []byte(photoPrefix))
		return nil
	})

	return albums, photos, err
}

// update runs fn in a read-write transaction, retrying when another writer wins a conflict.
func (c *badgerCatalog) update(fn func(txn *badger.Txn) error) error {

	var err error
	for attempt := 1; attempt <= maxTxnAttempts; attempt++ {
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		c.logger.Warn(fmt.Sprintf("catalog transaction conflict, attempt %d of %d", attempt, maxTxnAttempts))
	}

	return err
}

func (c *badgerCatalog) observe(op string, err error) {
	if err != nil {
		c.rec.CatalogOperation(op, metrics.OutcomeFailed)
		return
	}
	c.rec.CatalogOperation(op, metrics.OutcomeSucceeded)
}

// putPhotos writes photo rows and album index entries. It assigns missing ids and
// returns the records as written, leaving the input slice untouched.
func putPhotos(txn *badger.Txn, albumId string, photos []api.PhotoRecord, now time.Time) ([]api.PhotoRecord, error) {

	seen := make(map[string]struct{}, len(photos))
	out := make([]api.PhotoRecord, 0, len(photos))

	for i, p := range photos {

		if p.Id == "" {
			generated, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("failed to generate photo id: %v", err)
			}
			p.Id = generated.String()
		}

		if !photoIdPattern.MatchString(p.Id) {
			return nil, fmt.Errorf("%w: invalid photo id %q", ErrInvalidRecord, p.Id)
		}

		if err := p.ValidateKeys(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}

		if _, dup := seen[p.Id]; dup {
			return nil, fmt.Errorf("%w: duplicate photo id %s in request", ErrPhotoExists, p.Id)
		}
		seen[p.Id] = struct{}{}

		exists, err := keyExists(txn, photoKey(p.Id))
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrPhotoExists, p.Id)
		}

		p.AlbumId = albumId
		// one nanosecond apart so a batch keeps its submission order
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now.Add(time.Duration(i))
		}
		p.Tags = normalizeTags(p.Tags)

		if err := setJson(txn, photoKey(p.Id), p); err != nil {
			return nil, err
		}
		if err := txn.Set(indexKey(albumId, p.Id), []byte{}); err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

// photoIds returns the ids of an album's photos in key order, which is not creation order
// for caller supplied ids. Use albumPhotos when order matters.
func photoIds(txn *badger.Txn, albumId string) ([]string, error) {

	prefix := albumIndexPrefix(albumId)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Rewind(); it.Valid(); it.Next() {
		ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
	}

	return ids, nil
}

// albumPhotos loads an album's photos oldest first, ties broken by id.
func albumPhotos(txn *badger.Txn, albumId string) ([]api.PhotoRecord, error) {

	ids, err := photoIds(txn, albumId)
	if err != nil {
		return nil, err
	}

	photos := make([]api.PhotoRecord, 0, len(ids))
	for _, id := range ids {
		var p api.PhotoRecord
		if err := getJson(txn, photoKey(id), &p); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		photos = append(photos, p)
	}

	sort.SliceStable(photos, func(i, j int) bool {
		if photos[i].CreatedAt.Equal(photos[j].CreatedAt) {
			return photos[i].Id < photos[j].Id
		}
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})

	return photos, nil
}

func recount(txn *badger.Txn, album *api.AlbumRecord) error {

	ids, err := photoIds(txn, album.Id)
	if err != nil {
		return err
	}
	album.PhotoCount = len(ids)

	return nil
}

func countPrefix(txn *badger.Txn, prefix []byte) int {

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var n int
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}

	return n
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {

	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}

	return false, err
}

func getJson(txn *badger.Txn, key []byte, v any) error {

	item, err := txn.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("failed to decode %s: %v", key, err)
		}
		return nil
	})
}

func setJson(txn *badger.Txn, key []byte, v any) error {

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", key, err)
	}

	return txn.Set(key, b)
}

func findPhoto(photos []api.PhotoRecord, id string) *api.PhotoRecord {
	for i := range photos {
		if photos[i].Id == id {
			return &photos[i]
		}
	}
	return nil
}

// normalizeTags trims tags, drops empties and duplicates, and keeps order.
func normalizeTags(tags []string) []string {

	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	return out
}
