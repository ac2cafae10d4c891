package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/static"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

// multipart parts above this size spill to temp files
const multipartMemory = 32 << 20

// file field names, in lookup order
var fileFields = []string{"images", "files"}

// UploadResponse is the body of a processed upload, including partial successes.
type UploadResponse struct {
	Success        bool        `json:"success"`
	Message        string      `json:"message"`
	ProcessedCount int         `json:"processed_count"`
	SubmittedCount int         `json:"submitted_count"`
	Images         []api.Photo `json:"images"`
	Failed         []Failure   `json:"failed"`
	AlbumId        string      `json:"album_id,omitempty"`
}

// albumTarget is the optional album the uploaded photos are written to.
type albumTarget struct {
	existing bool
	record   api.AlbumRecord
}

// UploadHandler is the interface for the admin upload endpoint.
type UploadHandler interface {

	// HandleUpload handles POST /admin/upload.
	HandleUpload(w http.ResponseWriter, r *http.Request)
}

// NewUploadHandler creates a new upload handler, returning a pointer to the concrete implementation.
func NewUploadHandler(
	i Ingestor,
	c catalog.Catalog,
	s storage.Store,
	g auth.Gate,
	urls static.Resolver,
	maxUploadBytes int64,
	maxFileBytes int64,
) UploadHandler {

	if maxUploadBytes <= 0 {
		maxUploadBytes = util.MaxUploadBytes
	}
	if maxFileBytes <= 0 {
		maxFileBytes = util.MaxFileBytes
	}

	return &uploadHandler{
		ingestor:  i,
		catalog:   c,
		store:     s,
		gate:      g,
		urls:      urls,
		maxUpload: maxUploadBytes,
		maxFile:   maxFileBytes,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageIngest)).
			With(slog.String(util.ComponentKey, util.ComponentUploadHandler)),
	}
}

var _ UploadHandler = (*uploadHandler)(nil)

type uploadHandler struct {
	ingestor  Ingestor
	catalog   catalog.Catalog
	store     storage.Store
	gate      auth.Gate
	urls      static.Resolver
	maxUpload int64
	maxFile   int64

	logger *slog.Logger
}

// HandleUpload is the concrete implementation of the interface method.
func (h *uploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if r.Method != http.MethodPost {
		log.Error(fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path))
		e := connect.ErrorHttp{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
		}
		e.SendJsonErr(w)
		return
	}

	// auth before reading a single byte of the body
	admin, err := h.gate.VerifyAdmin(r)
	if err != nil {
		log.Error("failed to verify admin", "err", err.Error())
		auth.RespondAuthFailure(err, w)
		return
	}
	log = log.With("actor", admin.Username)

	ctx := context.WithValue(r.Context(), connect.TelemetryKey, tel)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Error("upload body too large", "limit", h.maxUpload)
			e := connect.ErrorHttp{
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    fmt.Sprintf("upload exceeds %d bytes", h.maxUpload),
			}
			e.SendJsonErr(w)
			return
		}

		log.Error("failed to parse multipart form", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    "request must be multipart/form-data",
		}
		e.SendJsonErr(w)
		return
	}
	defer r.MultipartForm.RemoveAll()

	category := api.Category(strings.ToLower(strings.TrimSpace(r.FormValue("category"))))
	if !category.IsValid() {
		log.Error("invalid category", "category", string(category))
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    fmt.Sprintf("category must be one of %v", api.Categories),
		}
		e.SendJsonErr(w)
		return
	}

	// resolve the album before ingesting so bad album input never leaves files behind
	target, err := h.albumTarget(ctx, r.MultipartForm, category)
	if err != nil {
		log.Error("invalid album fields", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		}
		e.SendJsonErr(w)
		return
	}

	files, err := h.readFiles(r.MultipartForm)
	if err != nil {
		log.Error("failed to read uploaded files", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    "failed to read uploaded files",
		}
		e.SendJsonErr(w)
		return
	}

	result, err := h.ingestor.Ingest(ctx, files, category)
	if err != nil {
		h.respondIngestError(w, result, err, log)
		return
	}

	status := http.StatusOK
	resp := UploadResponse{
		Success:        true,
		ProcessedCount: len(result.Succeeded),
		SubmittedCount: result.Submitted,
		Failed:         result.Failed,
	}

	if target != nil {
		albumId, err := h.persist(ctx, target, result.Succeeded)
		if err != nil {
			log.Error("failed to write uploaded photos to the catalog", "err", err.Error())

			// renditions without catalog rows are unreachable: remove them now
			keys := make([]string, 0, 4*len(result.Succeeded))
			for i := range result.Succeeded {
				keys = append(keys, result.Succeeded[i].Keys()...)
			}
			if cleanupErr := storage.DeleteAll(context.WithoutCancel(ctx), h.store, keys...); cleanupErr != nil {
				log.Error("failed to remove renditions after catalog failure", "err", cleanupErr.Error())
			}

			h.respondCatalogError(w, err)
			return
		}

		for i := range result.Succeeded {
			result.Succeeded[i].AlbumId = albumId
		}
		resp.AlbumId = albumId
		status = http.StatusCreated
	}

	resp.Images = make([]api.Photo, len(result.Succeeded))
	for i := range result.Succeeded {
		resp.Images[i] = result.Succeeded[i].View(h.urls.URL)
	}
	if resp.Failed == nil {
		resp.Failed = []Failure{}
	}
	resp.Message = fmt.Sprintf("processed %d of %d images", resp.ProcessedCount, resp.SubmittedCount)

	log.Info(resp.Message, "album_id", resp.AlbumId)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to encode upload response", "err", err.Error())
		return
	}
}

// readFiles loads every uploaded file part into memory. A file larger than the per-file
// ceiling is read one byte past it so the orchestrator rejects it by size.
func (h *uploadHandler) readFiles(form *multipart.Form) ([]UploadedImage, error) {

	var headers []*multipart.FileHeader
	for _, field := range fileFields {
		headers = append(headers, form.File[field]...)
	}

	files := make([]UploadedImage, 0, len(headers))
	for _, fh := range headers {

		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %v", fh.Filename, err)
		}

		data, err := io.ReadAll(io.LimitReader(f, h.maxFile+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %v", fh.Filename, err)
		}

		files = append(files, UploadedImage{Filename: fh.Filename, Data: data})
	}

	return files, nil
}

// albumTarget reads the optional album fields. It returns nil when none are set.
func (h *uploadHandler) albumTarget(ctx context.Context, form *multipart.Form, category api.Category) (*albumTarget, error) {

	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	id := value("album_id")
	title := value("album_title")
	if id == "" && title == "" {
		return nil, nil
	}

	if id != "" {
		existing, err := h.catalog.GetAlbumById(ctx, id)
		if err == nil {
			return &albumTarget{existing: true, record: *existing}, nil
		}
		if !errors.Is(err, catalog.ErrAlbumNotFound) {
			return nil, fmt.Errorf("failed to look up album %s", id)
		}
	}

	var featured bool
	if raw := value("album_featured"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("album_featured must be true or false")
		}
		featured = b
	}

	record := api.AlbumRecord{
		Id:          id,
		Title:       title,
		Description: value("album_description"),
		Category:    category,
		Featured:    featured,
		Location:    value("album_location"),
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	return &albumTarget{record: record}, nil
}

// persist writes the photos to the target album, creating it when needed.
func (h *uploadHandler) persist(ctx context.Context, target *albumTarget, photos []api.PhotoRecord) (string, error) {

	if target.existing {
		if _, err := h.catalog.AddPhotos(ctx, target.record.Id, photos); err != nil {
			return "", err
		}
		return target.record.Id, nil
	}

	record := target.record
	record.Photos = photos
	return h.catalog.CreateAlbum(ctx, record)
}

func (h *uploadHandler) respondIngestError(w http.ResponseWriter, result *Result, err error, log *slog.Logger) {

	switch {
	case errors.Is(err, ErrValidation):
		log.Error("invalid upload", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		}
		e.SendJsonErr(w)

	case errors.Is(err, ErrNoImagesProcessed), errors.Is(err, ErrStorageWrite):
		status := http.StatusBadRequest
		if errors.Is(err, ErrStorageWrite) {
			status = http.StatusInternalServerError
		}

		resp := UploadResponse{
			Success: false,
			Message: err.Error(),
			Images:  []api.Photo{},
			Failed:  []Failure{},
		}
		if result != nil {
			resp.SubmittedCount = result.Submitted
			resp.Failed = result.Failed
		}

		log.Error("upload produced no images", "err", err.Error())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error("failed to encode upload response", "err", err.Error())
		}

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("upload cancelled", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "upload cancelled",
		}
		e.SendJsonErr(w)

	default:
		log.Error("failed to ingest upload", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to process upload",
		}
		e.SendJsonErr(w)
	}
}

func (h *uploadHandler) respondCatalogError(w http.ResponseWriter, err error) {

	e := connect.ErrorHttp{
		StatusCode: http.StatusInternalServerError,
		Message:    "failed to save photos to the catalog",
	}

	switch {
	case errors.Is(err, catalog.ErrAlbumExists), errors.Is(err, catalog.ErrPhotoExists):
		e.StatusCode = http.StatusConflict
		e.Message = err.Error()
	case errors.Is(err, catalog.ErrAlbumNotFound):
		e.StatusCode = http.StatusNotFound
		e.Message = err.Error()
	case errors.Is(err, catalog.ErrInvalidRecord):
		e.StatusCode = http.StatusBadRequest
		e.Message = err.Error()
	}

	e.SendJsonErr(w)
}
