package album

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/static"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

var authCfg = auth.Config{Secret: "album-test-secret-album-test-secret"}

type fixture struct {
	svc     Service
	albums  Handler
	photos  PhotoHandler
	catalog catalog.Catalog
	store   storage.Store
	token   string
	mux     *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := catalog.OpenDb("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := catalog.NewCatalog(db, metrics.Noop())

	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	token, _, err := auth.NewIssuer(authCfg).Issue("curator", auth.RoleAdmin)
	require.NoError(t, err)

	svc := NewService(c, s, static.NewResolver(""))
	gate := auth.NewGate(authCfg)
	f := &fixture{
		svc:     svc,
		albums:  NewHandler(svc, gate),
		photos:  NewPhotoHandler(svc, gate),
		catalog: c,
		store:   s,
		token:   token,
		mux:     http.NewServeMux(),
	}

	f.mux.HandleFunc("/albums", f.albums.HandleAlbums)
	f.mux.HandleFunc("/albums/{id}", f.albums.HandleAlbum)
	f.mux.HandleFunc("/albums/{id}/cover", f.albums.HandleCover)
	f.mux.HandleFunc("/albums/{id}/photos", f.albums.HandlePhotos)
	f.mux.HandleFunc("/photos/{id}", f.photos.HandlePhoto)

	return f
}

// storedPhoto writes the four renditions of a photo and returns its record.
func (f *fixture) storedPhoto(t *testing.T, id string) api.PhotoRecord {
	t.Helper()

	name := fmt.Sprintf("travel_%s.jpg", id)
	p := api.PhotoRecord{
		Id:          id,
		Src:         "travel/" + name,
		DetailSrc:   "detail/" + name,
		OriginalSrc: "original/" + name,
		Thumbnail:   "thumbnails/travel/" + name,
		Title:       "photo " + id,
		Alt:         "photo " + id,
		Tags:        []string{},
	}

	for _, k := range p.Keys() {
		require.NoError(t, f.store.Put(context.Background(), k, []byte("jpeg"), "image/jpeg"))
	}

	return p
}

func (f *fixture) do(t *testing.T, method, target string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	r := httptest.NewRequest(method, target, &buf)
	if admin {
		r.AddCookie(&http.Cookie{Name: util.AdminCookieName, Value: f.token})
	}

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()

	_, err := f.store.Stat(context.Background(), key)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, storage.ErrNotFound)
	return false
}

func TestAlbumLifecycle(t *testing.T) {

	f := newFixture(t)
	p1, p2 := f.storedPhoto(t, "p1"), f.storedPhoto(t, "p2")

	// create
	w := f.do(t, http.MethodPost, "/albums", api.AddAlbumCmd{
		Id:       "kyoto-2024",
		Title:    "Kyoto 2024",
		Category: api.CategoryTravel,
		Photos:   []api.PhotoRecord{p1, p2},
	}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	var album api.Album
	require.NoError(t, json.NewDecoder(w.Body).Decode(&album))
	assert.Equal(t, 2, album.PhotoCount)
	assert.Equal(t, "p1", album.CoverPhotoId)
	assert.Equal(t, "/images/travel/travel_p1.jpg", album.CoverImage)

	// read is public
	w = f.do(t, http.MethodGet, "/albums/kyoto-2024", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&album))
	require.Len(t, album.Photos, 2)
	assert.Equal(t, "/images/thumbnails/travel/travel_p1.jpg", album.Photos[0].Thumbnail)

	// update
	w = f.do(t, http.MethodPut, "/albums/kyoto-2024", `{"title":"Kyoto in Spring","featured":true}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&album))
	assert.Equal(t, "Kyoto in Spring", album.Title)
	assert.True(t, album.Featured)

	// cover
	w = f.do(t, http.MethodPut, "/albums/kyoto-2024/cover", api.CoverCmd{PhotoId: "p2"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&album))
	assert.Equal(t, "p2", album.CoverPhotoId)

	// listing filters
	w = f.do(t, http.MethodGet, "/albums?featured=true", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var albums []api.Album
	require.NoError(t, json.NewDecoder(w.Body).Decode(&albums))
	assert.Len(t, albums, 1)

	w = f.do(t, http.MethodGet, "/albums?category=cosplay", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	albums = nil
	require.NoError(t, json.NewDecoder(w.Body).Decode(&albums))
	assert.Empty(t, albums)

	// delete cascades to photos and files
	w = f.do(t, http.MethodDelete, "/albums/kyoto-2024", nil, true)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/albums/kyoto-2024", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := f.catalog.GetPhoto(context.Background(), "p1")
	assert.ErrorIs(t, err, catalog.ErrPhotoNotFound)
	for _, k := range append(p1.Keys(), p2.Keys()...) {
		assert.False(t, f.exists(t, k), k)
	}
}

func TestAlbumMutationsRequireAdmin(t *testing.T) {

	f := newFixture(t)

	testCases := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodPost, "/albums", `{"title":"x","category":"travel"}`},
		{http.MethodPut, "/albums/any", `{"title":"x"}`},
		{http.MethodDelete, "/albums/any", ""},
		{http.MethodPut, "/albums/any/cover", `{"photo_id":"p1"}`},
		{http.MethodPost, "/albums/any/photos", `[]`},
		{http.MethodPut, "/photos/p1", `{"title":"x"}`},
		{http.MethodDelete, "/photos/p1", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			w := f.do(t, tc.method, tc.target, tc.body, false)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAlbumErrors(t *testing.T) {

	f := newFixture(t)
	ctx := context.Background()

	a := f.storedPhoto(t, "a1")
	b := f.storedPhoto(t, "b1")
	_, err := f.svc.CreateAlbum(ctx, api.AddAlbumCmd{Id: "first", Title: "First", Category: api.CategoryTravel, Photos: []api.PhotoRecord{a}})
	require.NoError(t, err)
	_, err = f.svc.CreateAlbum(ctx, api.AddAlbumCmd{Id: "second", Title: "Second", Category: api.CategoryTravel, Photos: []api.PhotoRecord{b}})
	require.NoError(t, err)

	missing := a
	missing.Id = "ghost"
	missing.Src = "travel/travel_ghost.jpg"

	testCases := []struct {
		name   string
		method string
		target string
		body   any
		status int
	}{
		{"duplicate album id", http.MethodPost, "/albums", api.AddAlbumCmd{Id: "first", Title: "Again", Category: api.CategoryTravel}, http.StatusConflict},
		{"invalid category", http.MethodPost, "/albums", `{"title":"x","category":"food"}`, http.StatusBadRequest},
		{"missing title", http.MethodPost, "/albums", `{"category":"travel"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/albums", `{`, http.StatusBadRequest},
		{"missing album", http.MethodGet, "/albums/nope", nil, http.StatusNotFound},
		{"invalid album id", http.MethodGet, "/albums/Not_Valid", nil, http.StatusBadRequest},
		{"invalid category filter", http.MethodGet, "/albums?category=food", nil, http.StatusBadRequest},
		{"update unknown field", http.MethodPut, "/albums/first", `{"id":"renamed"}`, http.StatusBadRequest},
		{"update nothing", http.MethodPut, "/albums/first", `{}`, http.StatusBadRequest},
		{"update missing album", http.MethodPut, "/albums/nope", `{"title":"x"}`, http.StatusNotFound},
		{"cover from another album", http.MethodPut, "/albums/first/cover", api.CoverCmd{PhotoId: "b1"}, http.StatusBadRequest},
		{"cover without photo", http.MethodPut, "/albums/first/cover", `{}`, http.StatusBadRequest},
		{"cover of missing album", http.MethodPut, "/albums/nope/cover", api.CoverCmd{PhotoId: "a1"}, http.StatusNotFound},
		{"add photos with missing files", http.MethodPost, "/albums/first/photos", []api.PhotoRecord{missing}, http.StatusBadRequest},
		{"add existing photo", http.MethodPost, "/albums/first/photos", []api.PhotoRecord{b}, http.StatusConflict},
		{"add photos to missing album", http.MethodPost, "/albums/nope/photos", []api.PhotoRecord{f.storedPhoto(t, "c1")}, http.StatusNotFound},
		{"delete missing album", http.MethodDelete, "/albums/nope", nil, http.StatusNotFound},
		{"unsupported method", http.MethodPatch, "/albums/first", nil, http.StatusMethodNotAllowed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, tc.target, tc.body, true)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func TestAddPhotos(t *testing.T) {

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAlbum(ctx, api.AddAlbumCmd{Id: "empty", Title: "Empty", Category: api.CategoryCosplay})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/albums/empty/photos", []api.PhotoRecord{f.storedPhoto(t, "n1"), f.storedPhoto(t, "n2")}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp addPhotosResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []string{"n1", "n2"}, resp.PhotoIds)

	album, err := f.svc.GetAlbum(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 2, album.PhotoCount)
	assert.Equal(t, "n1", album.CoverPhotoId)
}

func TestPhotoEndpoints(t *testing.T) {

	f := newFixture(t)
	ctx := context.Background()

	p1, p2 := f.storedPhoto(t, "p1"), f.storedPhoto(t, "p2")
	_, err := f.svc.CreateAlbum(ctx, api.AddAlbumCmd{Id: "osaka", Title: "Osaka", Category: api.CategoryTravel, Photos: []api.PhotoRecord{p1, p2}})
	require.NoError(t, err)

	// get
	w := f.do(t, http.MethodGet, "/photos/p1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var photo api.Photo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&photo))
	assert.Equal(t, "osaka", photo.AlbumId)
	assert.Equal(t, "/images/detail/travel_p1.jpg", photo.DetailSrc)

	// update descriptive fields
	w = f.do(t, http.MethodPut, "/photos/p1", `{"title":"Dotonbori at night","tags":["neon","night"]}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&photo))
	assert.Equal(t, "Dotonbori at night", photo.Title)
	assert.Equal(t, []string{"neon", "night"}, photo.Tags)

	// rendition keys and ids are immutable
	for _, field := range api.ImmutablePhotoFields {
		t.Run("immutable "+field, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/photos/p1", fmt.Sprintf(`{"title":"x","%s":"elsewhere.jpg"}`, field), true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), field))
		})
	}

	// key case and separators do not get around the check
	for _, tc := range []struct {
		key   string
		field string
	}{
		{"Src", "src"},
		{"detailSrc", "detail_src"},
		{"ORIGINAL_SRC", "original_src"},
		{"Album-Id", "album_id"},
	} {
		t.Run("immutable "+tc.key, func(t *testing.T) {
			w := f.do(t, http.MethodPut, "/photos/p1", fmt.Sprintf(`{"title":"x","%s":"elsewhere.jpg"}`, tc.key), true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.field)
		})
	}

	stored, err := f.catalog.GetPhoto(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p1.Src, stored.Src)

	// delete moves the cover and removes the files
	w = f.do(t, http.MethodDelete, "/photos/p1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var deleted deletePhotoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&deleted))
	assert.Equal(t, "osaka", deleted.AlbumId)

	for _, k := range p1.Keys() {
		assert.False(t, f.exists(t, k))
	}
	for _, k := range p2.Keys() {
		assert.True(t, f.exists(t, k))
	}

	album, err := f.svc.GetAlbum(ctx, "osaka")
	require.NoError(t, err)
	assert.Equal(t, 1, album.PhotoCount)
	assert.Equal(t, "p2", album.CoverPhotoId)

	w = f.do(t, http.MethodGet, "/photos/p1", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/photos/p1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/photos/bad%20id", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
