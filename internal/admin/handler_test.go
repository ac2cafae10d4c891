package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/sweep"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

var authCfg = auth.Config{Secret: "admin-test-secret-admin-test-secret"}

func newTestHandler(t *testing.T) (Handler, storage.Store, string) {
	t.Helper()

	db, err := catalog.OpenDb("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := catalog.NewCatalog(db, metrics.Noop())

	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = c.CreateAlbum(context.Background(), api.AlbumRecord{Id: "one", Title: "One", Category: api.CategoryTravel})
	require.NoError(t, err)

	token, _, err := auth.NewIssuer(authCfg).Issue("curator", auth.RoleAdmin)
	require.NoError(t, err)

	h := NewHandler(c, s, sweep.NewSweeper(c, s), auth.NewGate(authCfg), time.Now().Add(-time.Minute))
	return h, s, token
}

func withToken(r *http.Request, token string) *http.Request {
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestHandleSystem(t *testing.T) {

	h, _, token := newTestHandler(t)

	w := httptest.NewRecorder()
	h.HandleSystem(w, withToken(httptest.NewRequest(http.MethodGet, "/admin/system", nil), token))
	require.Equal(t, http.StatusOK, w.Code)

	var info SystemInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "portfolio", info.Service)
	assert.Equal(t, 1, info.Albums)
	assert.Zero(t, info.Photos)
	assert.Equal(t, "local", info.StorageBackend)
	assert.GreaterOrEqual(t, info.UptimeSeconds, int64(59))
	assert.NotEmpty(t, info.GoVersion)
	assert.Positive(t, info.Goroutines)

	w = httptest.NewRecorder()
	h.HandleSystem(w, httptest.NewRequest(http.MethodGet, "/admin/system", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.HandleSystem(w, withToken(httptest.NewRequest(http.MethodPost, "/admin/system", nil), token))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleCleanup(t *testing.T) {

	h, s, token := newTestHandler(t)
	ctx := context.Background()

	orphan := "travel/travel_orphan.jpg"
	require.NoError(t, s.Put(ctx, orphan, []byte("jpeg"), "image/jpeg"))

	testCases := []struct {
		name    string
		target  string
		status  int
		orphans int
		deleted int
	}{
		{"fresh orphan is inside the default grace period", "/admin/cleanup", http.StatusOK, 0, 0},
		{"dry run with a short grace period", "/admin/cleanup?dry_run=true&grace=1ns", http.StatusOK, 1, 0},
		{"bad dry run flag", "/admin/cleanup?dry_run=perhaps", http.StatusBadRequest, 0, 0},
		{"bad grace", "/admin/cleanup?grace=soon", http.StatusBadRequest, 0, 0},
		{"real run", "/admin/cleanup?grace=1ns", http.StatusOK, 1, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {

			w := httptest.NewRecorder()
			h.HandleCleanup(w, withToken(httptest.NewRequest(http.MethodPost, tc.target, nil), token))
			require.Equal(t, tc.status, w.Code)
			if tc.status != http.StatusOK {
				return
			}

			var report sweep.Report
			require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
			assert.Equal(t, tc.orphans, report.Orphaned)
			assert.Equal(t, tc.deleted, report.Deleted)
		})
	}

	_, err := s.Stat(ctx, orphan)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	w := httptest.NewRecorder()
	h.HandleCleanup(w, httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
