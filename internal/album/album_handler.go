package album

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/carapace/pkg/validate"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

// photo ids are uuids from ingestion, or client supplied slugs
const photoIdRegex = `^[A-Za-z0-9_\-]{1,64}$`

// Handler is the interface for the album endpoints. Reads are public, mutations require the admin.
type Handler interface {

	// HandleAlbums handles GET and POST /albums.
	HandleAlbums(w http.ResponseWriter, r *http.Request)

	// HandleAlbum handles GET, PUT and DELETE /albums/{id}.
	HandleAlbum(w http.ResponseWriter, r *http.Request)

	// HandleCover handles PUT /albums/{id}/cover.
	HandleCover(w http.ResponseWriter, r *http.Request)

	// HandlePhotos handles POST /albums/{id}/photos.
	HandlePhotos(w http.ResponseWriter, r *http.Request)
}

// NewHandler creates a new album handler, returning a pointer to the concrete implementation.
func NewHandler(s Service, g auth.Gate) Handler {
	return &handler{
		svc:  s,
		gate: g,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageAlbum)).
			With(slog.String(util.ComponentKey, util.ComponentAlbumHandler)),
	}
}

var _ Handler = (*handler)(nil)

type handler struct {
	svc  Service
	gate auth.Gate

	logger *slog.Logger
}

// HandleAlbums is the concrete implementation of the interface method.
func (h *handler) HandleAlbums(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	switch r.Method {
	case http.MethodGet:
		h.getAlbums(w, r, log)
		return
	case http.MethodPost:
		h.createAlbum(w, r, log)
		return
	default:
		respondMethodNotAllowed(w, r, log)
		return
	}
}

// HandleAlbum is the concrete implementation of the interface method.
func (h *handler) HandleAlbum(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	id, ok := albumId(w, r)
	if !ok {
		return
	}
	log = log.With("album_id", id)

	switch r.Method {
	case http.MethodGet:
		album, err := h.svc.GetAlbum(r.Context(), id)
		if err != nil {
			respondServiceError(err, w, log)
			return
		}
		writeJson(w, http.StatusOK, album, log)
		return

	case http.MethodPut:
		if !h.authorize(w, r, log) {
			return
		}

		var cmd api.AlbumUpdateCmd
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJsonBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cmd); err != nil {
			log.Error("failed to decode album update", "err", err.Error())
			respondBadRequest(w, "failed to decode request body")
			return
		}

		if err := cmd.Validate(); err != nil {
			log.Error("invalid album update", "err", err.Error())
			respondBadRequest(w, err.Error())
			return
		}

		album, err := h.svc.UpdateAlbum(r.Context(), id, cmd)
		if err != nil {
			respondServiceError(err, w, log)
			return
		}
		log.Info("updated album")
		writeJson(w, http.StatusOK, album, log)
		return

	case http.MethodDelete:
		if !h.authorize(w, r, log) {
			return
		}

		if err := h.svc.DeleteAlbum(r.Context(), id); err != nil {
			respondServiceError(err, w, log)
			return
		}
		log.Info("deleted album")
		w.WriteHeader(http.StatusNoContent)
		return

	default:
		respondMethodNotAllowed(w, r, log)
		return
	}
}

// HandleCover is the concrete implementation of the interface method.
func (h *handler) HandleCover(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if r.Method != http.MethodPut {
		respondMethodNotAllowed(w, r, log)
		return
	}

	if !h.authorize(w, r, log) {
		return
	}

	id, ok := albumId(w, r)
	if !ok {
		return
	}

	var cmd api.CoverCmd
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJsonBody)).Decode(&cmd); err != nil {
		log.Error("failed to decode cover request", "err", err.Error())
		respondBadRequest(w, "failed to decode request body")
		return
	}

	if err := cmd.Validate(); err != nil {
		respondBadRequest(w, err.Error())
		return
	}

	album, err := h.svc.SetCover(r.Context(), id, strings.TrimSpace(cmd.PhotoId))
	if err != nil {
		respondServiceError(err, w, log)
		return
	}

	log.Info(fmt.Sprintf("set cover of album %s to photo %s", id, cmd.PhotoId))
	writeJson(w, http.StatusOK, album, log)
}

// addPhotosResponse is the body of a successful POST /albums/{id}/photos.
type addPhotosResponse struct {
	AlbumId  string   `json:"album_id"`
	PhotoIds []string `json:"photo_ids"`
}

// HandlePhotos is the concrete implementation of the interface method.
func (h *handler) HandlePhotos(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if r.Method != http.MethodPost {
		respondMethodNotAllowed(w, r, log)
		return
	}

	if !h.authorize(w, r, log) {
		return
	}

	id, ok := albumId(w, r)
	if !ok {
		return
	}

	var photos []api.PhotoRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJsonBody)).Decode(&photos); err != nil {
		log.Error("failed to decode photos", "err", err.Error())
		respondBadRequest(w, "request body must be a json array of photos")
		return
	}

	ids, err := h.svc.AddPhotos(r.Context(), id, photos)
	if err != nil {
		respondServiceError(err, w, log)
		return
	}

	log.Info(fmt.Sprintf("added %d photos to album %s", len(ids), id))
	writeJson(w, http.StatusCreated, addPhotosResponse{AlbumId: id, PhotoIds: ids}, log)
}

func (h *handler) getAlbums(w http.ResponseWriter, r *http.Request, log *slog.Logger) {

	var f Filter

	if c := strings.TrimSpace(r.URL.Query().Get("category")); c != "" {
		f.Category = api.Category(strings.ToLower(c))
		if !f.Category.IsValid() {
			respondBadRequest(w, fmt.Sprintf("category must be one of %v", api.Categories))
			return
		}
	}

	if raw := r.URL.Query().Get("featured"); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			respondBadRequest(w, "featured must be true or false")
			return
		}
		f.Featured = featured
	}

	albums, err := h.svc.GetAlbums(r.Context(), f)
	if err != nil {
		respondServiceError(err, w, log)
		return
	}

	writeJson(w, http.StatusOK, albums, log)
}

func (h *handler) createAlbum(w http.ResponseWriter, r *http.Request, log *slog.Logger) {

	if !h.authorize(w, r, log) {
		return
	}

	var cmd api.AddAlbumCmd
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJsonBody)).Decode(&cmd); err != nil {
		log.Error("failed to decode album", "err", err.Error())
		respondBadRequest(w, "failed to decode request body")
		return
	}

	if err := cmd.Validate(); err != nil {
		log.Error("invalid album", "err", err.Error())
		respondBadRequest(w, err.Error())
		return
	}

	album, err := h.svc.CreateAlbum(r.Context(), cmd)
	if err != nil {
		respondServiceError(err, w, log)
		return
	}

	writeJson(w, http.StatusCreated, album, log)
}

// authorize writes the auth failure and returns false when the caller is not the admin.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request, log *slog.Logger) bool {

	if _, err := h.gate.VerifyAdmin(r); err != nil {
		log.Error("failed to verify admin", "err", err.Error())
		auth.RespondAuthFailure(err, w)
		return false
	}

	return true
}

func albumId(w http.ResponseWriter, r *http.Request) (string, bool) {

	id := strings.TrimSpace(r.PathValue("id"))
	if !validate.MatchesRegex(id, api.AlbumIdRegex) {
		respondBadRequest(w, "invalid album id")
		return "", false
	}

	return id, true
}
