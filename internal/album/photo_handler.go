package album

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/carapace/pkg/validate"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

// PhotoHandler is the interface for the single photo endpoint.
type PhotoHandler interface {

	// HandlePhoto handles GET, PUT and DELETE /photos/{id}.
	HandlePhoto(w http.ResponseWriter, r *http.Request)
}

// NewPhotoHandler creates a new photo handler, returning a pointer to the concrete implementation.
func NewPhotoHandler(s Service, g auth.Gate) PhotoHandler {
	return &photoHandler{
		svc:  s,
		gate: g,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageAlbum)).
			With(slog.String(util.ComponentKey, util.ComponentPhotoHandler)),
	}
}

var _ PhotoHandler = (*photoHandler)(nil)

type photoHandler struct {
	svc  Service
	gate auth.Gate

	logger *slog.Logger
}

// deletePhotoResponse is the body of a successful photo delete.
type deletePhotoResponse struct {
	Id      string `json:"id"`
	AlbumId string `json:"album_id"`
}

// HandlePhoto is the concrete implementation of the interface method.
func (h *photoHandler) HandlePhoto(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	id := strings.TrimSpace(r.PathValue("id"))
	if !validate.MatchesRegex(id, photoIdRegex) {
		respondBadRequest(w, "invalid photo id")
		return
	}
	log = log.With("photo_id", id)

	switch r.Method {
	case http.MethodGet:
		photo, err := h.svc.GetPhoto(r.Context(), id)
		if err != nil {
			respondServiceError(err, w, log)
			return
		}
		writeJson(w, http.StatusOK, photo, log)
		return

	case http.MethodPut:
		if _, err := h.gate.VerifyAdmin(r); err != nil {
			log.Error("failed to verify admin", "err", err.Error())
			auth.RespondAuthFailure(err, w)
			return
		}

		cmd, err := decodePhotoUpdate(http.MaxBytesReader(w, r.Body, maxJsonBody))
		if err != nil {
			log.Error("invalid photo update", "err", err.Error())
			respondBadRequest(w, err.Error())
			return
		}

		photo, err := h.svc.UpdatePhoto(r.Context(), id, *cmd)
		if err != nil {
			respondServiceError(err, w, log)
			return
		}
		log.Info("updated photo")
		writeJson(w, http.StatusOK, photo, log)
		return

	case http.MethodDelete:
		if _, err := h.gate.VerifyAdmin(r); err != nil {
			log.Error("failed to verify admin", "err", err.Error())
			auth.RespondAuthFailure(err, w)
			return
		}

		albumId, err := h.svc.DeletePhoto(r.Context(), id)
		if err != nil {
			respondServiceError(err, w, log)
			return
		}
		log.Info(fmt.Sprintf("deleted photo from album %s", albumId))
		writeJson(w, http.StatusOK, deletePhotoResponse{Id: id, AlbumId: albumId}, log)
		return

	default:
		respondMethodNotAllowed(w, r, log)
		return
	}
}

// foldFieldName lower cases a json key and drops underscores and dashes.
func foldFieldName(key string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return -1
		}
		return r
	}, strings.ToLower(key))
}

// decodePhotoUpdate rejects bodies that name an immutable field before decoding the update.
func decodePhotoUpdate(body io.Reader) (*api.PhotoUpdateCmd, error) {

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode request body")
	}

	// encoding/json matches keys case insensitively, so "Src" or "detailSrc" must be caught too
	for key := range raw {
		for _, field := range api.ImmutablePhotoFields {
			if foldFieldName(key) == foldFieldName(field) {
				return nil, fmt.Errorf("%w: %s", ErrImmutableField, field)
			}
		}
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode request body")
	}

	var cmd api.PhotoUpdateCmd
	if err := json.Unmarshal(b, &cmd); err != nil {
		return nil, fmt.Errorf("failed to decode request body")
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return &cmd, nil
}
