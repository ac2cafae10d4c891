package album

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/catalog"
)

// maxJsonBody caps album and photo request bodies; an album create may carry many photos.
const maxJsonBody = 1 << 20

// respondServiceError maps service and catalog errors to an http error response.
func respondServiceError(err error, w http.ResponseWriter, log *slog.Logger) {

	e := connect.ErrorHttp{
		StatusCode: http.StatusInternalServerError,
		Message:    "internal server error",
	}

	switch {
	case errors.Is(err, catalog.ErrAlbumNotFound), errors.Is(err, catalog.ErrPhotoNotFound):
		e.StatusCode = http.StatusNotFound
		e.Message = err.Error()
	case errors.Is(err, catalog.ErrAlbumExists), errors.Is(err, catalog.ErrPhotoExists):
		e.StatusCode = http.StatusConflict
		e.Message = err.Error()
	case errors.Is(err, catalog.ErrInvalidRecord),
		errors.Is(err, catalog.ErrPhotoNotInAlbum),
		errors.Is(err, ErrRenditionMissing),
		errors.Is(err, ErrImmutableField):
		e.StatusCode = http.StatusBadRequest
		e.Message = err.Error()
	}

	if e.StatusCode == http.StatusInternalServerError {
		log.Error("album service failure", "err", err.Error())
	} else {
		log.Warn("rejected album request", "status", e.StatusCode, "err", err.Error())
	}

	e.SendJsonErr(w)
}

func respondMethodNotAllowed(w http.ResponseWriter, r *http.Request, log *slog.Logger) {

	log.Error(fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path))
	e := connect.ErrorHttp{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
	}
	e.SendJsonErr(w)
}

func respondBadRequest(w http.ResponseWriter, msg string) {
	e := connect.ErrorHttp{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
	}
	e.SendJsonErr(w)
}

func writeJson(w http.ResponseWriter, status int, v any, log *slog.Logger) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "err", err.Error())
	}
}
