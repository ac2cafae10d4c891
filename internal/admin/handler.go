// Package admin serves the operational endpoints: runtime and catalog status, and the
// orphaned rendition cleanup.
package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/sweep"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// SystemInfo is the body of GET /admin/system.
type SystemInfo struct {
	Service        string `json:"service"`
	Version        string `json:"version"`
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
	StartedAt      string `json:"started_at"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	Albums         int    `json:"albums"`
	Photos         int    `json:"photos"`
	StorageBackend string `json:"storage_backend"`
}

// Handler is the interface for the admin operational endpoints.
type Handler interface {

	// HandleSystem handles GET /admin/system.
	HandleSystem(w http.ResponseWriter, r *http.Request)

	// HandleCleanup handles POST /admin/cleanup (?dry_run=true, ?grace=30m).
	HandleCleanup(w http.ResponseWriter, r *http.Request)
}

// NewHandler creates a new admin handler, returning a pointer to the concrete implementation.
func NewHandler(c catalog.Catalog, s storage.Store, sw sweep.Sweeper, g auth.Gate, startedAt time.Time) Handler {
	return &handler{
		catalog:   c,
		store:     s,
		sweeper:   sw,
		gate:      g,
		startedAt: startedAt,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageGallery)).
			With(slog.String(util.ComponentKey, util.ComponentAdminHandler)),
	}
}

var _ Handler = (*handler)(nil)

type handler struct {
	catalog   catalog.Catalog
	store     storage.Store
	sweeper   sweep.Sweeper
	gate      auth.Gate
	startedAt time.Time

	logger *slog.Logger
}

// HandleSystem is the concrete implementation of the interface method.
func (h *handler) HandleSystem(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, log)
		return
	}

	if _, err := h.gate.VerifyAdmin(r); err != nil {
		log.Error("failed to verify admin", "err", err.Error())
		auth.RespondAuthFailure(err, w)
		return
	}

	albums, photos, err := h.catalog.Counts(r.Context())
	if err != nil {
		log.Error("failed to count catalog records", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to read catalog status",
		}
		e.SendJsonErr(w)
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := SystemInfo{
		Service:        util.ServicePortfolio,
		Version:        buildVersion(),
		GoVersion:      runtime.Version(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
		StartedAt:      h.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
		Albums:         albums,
		Photos:         photos,
		StorageBackend: h.store.Backend(),
	}

	writeJson(w, http.StatusOK, info, log)
}

// HandleCleanup is the concrete implementation of the interface method.
func (h *handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, log)
		return
	}

	admin, err := h.gate.VerifyAdmin(r)
	if err != nil {
		log.Error("failed to verify admin", "err", err.Error())
		auth.RespondAuthFailure(err, w)
		return
	}
	log = log.With("actor", admin.Username)

	opts := sweep.Options{GracePeriod: sweep.DefaultGracePeriod}

	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		dry, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "dry_run must be true or false")
			return
		}
		opts.DryRun = dry
	}

	if raw := r.URL.Query().Get("grace"); raw != "" {
		grace, err := time.ParseDuration(raw)
		if err != nil || grace <= 0 {
			badRequest(w, "grace must be a positive duration, eg 30m")
			return
		}
		opts.GracePeriod = grace
	}

	report, err := h.sweeper.Sweep(r.Context(), opts)
	if err != nil {
		log.Error("failed to sweep orphaned renditions", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to clean up orphaned renditions",
		}
		e.SendJsonErr(w)
		return
	}

	log.Info(fmt.Sprintf("cleanup removed %d of %d orphaned files", report.Deleted, report.Orphaned), "dry_run", report.DryRun)
	writeJson(w, http.StatusOK, report, log)
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, log *slog.Logger) {

	log.Error(fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path))
	e := connect.ErrorHttp{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
	}
	e.SendJsonErr(w)
}

func badRequest(w http.ResponseWriter, msg string) {
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

// buildVersion is the main module version stamped by the go toolchain, or "devel".
func buildVersion() string {

	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}

	return "devel"
}
