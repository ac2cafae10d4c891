// Package static serves stored rendition files and resolves storage keys to their public urls.
package static

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// RoutePrefix is the path prefix rendition files are served under.
const RoutePrefix = "/images/"

// Handler is the interface for the static rendition endpoint.
type Handler interface {

	// HandleImage serves GET and HEAD /images/{key...}.
	HandleImage(w http.ResponseWriter, r *http.Request)
}

// NewHandler creates a new static rendition handler, returning a pointer to the concrete implementation.
func NewHandler(s storage.Store) Handler {
	return &handler{
		store: s,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageStatic)).
			With(slog.String(util.ComponentKey, util.ComponentStatic)),
	}
}

var _ Handler = (*handler)(nil)

type handler struct {
	store storage.Store

	logger *slog.Logger
}

// HandleImage is the concrete implementation of the interface method.
func (h *handler) HandleImage(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		e := connect.ErrorHttp{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
		}
		e.SendJsonErr(w)
		return
	}

	key := r.PathValue("key")
	if key == "" {
		key = strings.TrimPrefix(r.URL.Path, RoutePrefix)
	}

	if err := storage.ValidateKey(key); err != nil {
		h.logger.Warn("rejected image key", "key", key, "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    "invalid image path",
		}
		e.SendJsonErr(w)
		return
	}

	contentType, ok := storage.ContentTypeFor(key)
	if !ok {
		e := connect.ErrorHttp{
			StatusCode: http.StatusUnsupportedMediaType,
			Message:    "unsupported image type",
		}
		e.SendJsonErr(w)
		return
	}

	// HEAD and conditional GETs never open the object
	info, err := h.store.Stat(r.Context(), key)
	if err != nil {
		h.respondStoreError(w, key, err)
		return
	}

	etag := weakETag(info)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", util.ImageCacheControl)
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))

	if notModified(r, etag, info.ModTime) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, _, err := h.store.Get(r.Context(), key)
	if err != nil {
		w.Header().Del("Content-Length")
		h.respondStoreError(w, key, err)
		return
	}
	defer rc.Close()

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error(fmt.Sprintf("failed to stream image %s", key), "err", err.Error())
	}
}

func (h *handler) respondStoreError(w http.ResponseWriter, key string, err error) {

	if errors.Is(err, storage.ErrNotFound) {
		e := connect.ErrorHttp{
			StatusCode: http.StatusNotFound,
			Message:    "image not found",
		}
		e.SendJsonErr(w)
		return
	}

	if errors.Is(err, storage.ErrInvalidKey) {
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    "invalid image path",
		}
		e.SendJsonErr(w)
		return
	}

	h.logger.Error(fmt.Sprintf("failed to read image %s", key), "err", err.Error())
	e := connect.ErrorHttp{
		StatusCode: http.StatusInternalServerError,
		Message:    "failed to read image",
	}
	e.SendJsonErr(w)
}

// weakETag is derived from size and modification time: renditions are never rewritten in place.
func weakETag(info *storage.ObjectInfo) string {
	return fmt.Sprintf(`W/"%x-%x"`, info.Size, info.ModTime.UnixNano())
}

func notModified(r *http.Request, etag string, modTime time.Time) bool {

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, candidate := range strings.Split(inm, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "*" || strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
				return true
			}
		}
		return false
	}

	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil {
			return !modTime.Truncate(time.Second).After(t)
		}
	}

	return false
}
