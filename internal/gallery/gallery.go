// Package gallery wires the portfolio service together: storage, catalog, ingestion,
// the admin gate and every http route.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tdeslauriers/portfolio/internal/admin"
	"github.com/tdeslauriers/portfolio/internal/album"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/config"
	"github.com/tdeslauriers/portfolio/internal/ingest"
	"github.com/tdeslauriers/portfolio/internal/logs"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/pipeline"
	"github.com/tdeslauriers/portfolio/internal/static"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/sweep"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// Gallery is the interface for engine that runs this service
type Gallery interface {

	// Run serves http until ctx is cancelled, then shuts the server down gracefully.
	Run(ctx context.Context) error

	// Handler returns the routed mux.
	Handler() http.Handler

	// Close closes the catalog database.
	Close() error
}

// New creates a new Gallery service instance, returning a pointer to the concrete implementation.
// buf may be nil, in which case the log endpoint serves an empty buffer.
func New(ctx context.Context, cfg *config.Config, buf *logs.Buffer) (Gallery, error) {

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", util.ServicePortfolio, err)
	}

	if err := cfg.ValidateAuth(); err != nil {
		return nil, fmt.Errorf("invalid %s admin config: %w", util.ServicePortfolio, err)
	}

	if buf == nil {
		buf = logs.NewBuffer(cfg.Log.BufferSize)
	}

	// metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	store, err := NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	db, err := catalog.OpenDb(cfg.Catalog.Path, cfg.Catalog.InMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	g := &gallery{
		config:    *cfg,
		db:        db,
		catalog:   catalog.NewCatalog(db, recorder),
		store:     store,
		registry:  registry,
		recorder:  recorder,
		logBuffer: buf,
		startedAt: time.Now().UTC(),

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageGallery)).
			With(slog.String(util.ComponentKey, util.ComponentGallery)),
	}

	g.mux = g.routes()

	return g, nil
}

var _ Gallery = (*gallery)(nil)

// gallery is the concrete implementation of the Gallery interface.
type gallery struct {
	config    config.Config
	db        *badger.DB
	catalog   catalog.Catalog
	store     storage.Store
	registry  *prometheus.Registry
	recorder  metrics.Recorder
	logBuffer *logs.Buffer
	startedAt time.Time
	mux       *http.ServeMux

	logger *slog.Logger
}

// NewStore opens the configured rendition store.
func NewStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {

	switch cfg.Backend {
	case config.BackendMinio:
		s, err := storage.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("failed to create minio store: %w", err)
		}
		return s, nil
	case config.BackendLocal, "":
		s, err := storage.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// routes registers every handler on a new mux.
func (g *gallery) routes() *http.ServeMux {

	gate := auth.NewGate(g.config.Auth)
	issuer := auth.NewIssuer(g.config.Auth)
	urls := static.NewResolver(g.config.Storage.PublicBaseURL)

	processor := pipeline.NewProcessor(g.config.Pipeline)
	ingestor := ingest.NewIngestor(processor, g.store, g.recorder, nil, g.config.Ingest)
	albums := album.NewService(g.catalog, g.store, urls)
	sweeper := sweep.NewSweeper(g.catalog, g.store)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	// renditions
	images := static.NewHandler(g.store)
	mux.HandleFunc(static.RoutePrefix+"{key...}", images.HandleImage)

	// public catalog reads, admin writes
	albumHandler := album.NewHandler(albums, gate)
	mux.HandleFunc("/albums", albumHandler.HandleAlbums)
	mux.HandleFunc("/albums/{id}", albumHandler.HandleAlbum)
	mux.HandleFunc("/albums/{id}/cover", albumHandler.HandleCover)
	mux.HandleFunc("/albums/{id}/photos", albumHandler.HandlePhotos)

	photos := album.NewPhotoHandler(albums, gate)
	mux.HandleFunc("/photos/{id}", photos.HandlePhoto)

	// admin
	upload := ingest.NewUploadHandler(ingestor, g.catalog, g.store, gate, urls, g.config.Server.MaxUploadBytes, g.config.Ingest.MaxFileBytes)
	mux.HandleFunc("/admin/upload", upload.HandleUpload)

	session := auth.NewHandler(gate, issuer, g.config.Auth.SecureCookie)
	mux.HandleFunc("/admin/auth", session.HandleAuth)

	logHandler := logs.NewLogsHandler(g.logBuffer, gate)
	mux.HandleFunc("/admin/logs", logHandler.HandleLogs)

	ops := admin.NewHandler(g.catalog, g.store, sweeper, gate, g.startedAt)
	mux.HandleFunc("/admin/system", ops.HandleSystem)
	mux.HandleFunc("/admin/cleanup", ops.HandleCleanup)

	return mux
}

// Handler is the concrete implementation of the interface method.
func (g *gallery) Handler() http.Handler {
	return g.mux
}

// Run is the concrete implementation of the interface method.
func (g *gallery) Run(ctx context.Context) error {

	server := &http.Server{
		Addr:              g.config.Server.Addr,
		Handler:           g.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       g.config.Server.ReadTimeout,
		WriteTimeout:      g.config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {

		g.logger.Info(fmt.Sprintf("starting %s service on %s (storage: %s)", util.ServicePortfolio, server.Addr, g.store.Backend()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to run %s service: %w", util.ServicePortfolio, err)
		}
		return nil
	case <-ctx.Done():
	}

	g.logger.Info(fmt.Sprintf("shutting down %s service", util.ServicePortfolio))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down %s service: %w", util.ServicePortfolio, err)
	}

	return nil
}

// Close is the concrete implementation of the interface method.
func (g *gallery) Close() error {
	if err := g.db.Close(); err != nil {
		g.logger.Error(fmt.Sprintf("failed to close %s catalog database", util.ServicePortfolio), "err", err.Error())
		return err
	}
	return nil
}

type healthResponse struct {
	Ok      bool   `json:"ok"`
	Storage string `json:"storage"`
}

// handleHealth reports ok once the catalog answers a read.
func (g *gallery) handleHealth(w http.ResponseWriter, r *http.Request) {

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	resp := healthResponse{Ok: true, Storage: g.store.Backend()}

	if _, _, err := g.catalog.Counts(r.Context()); err != nil {
		g.logger.Error("health check failed to read catalog", "err", err.Error())
		status = http.StatusServiceUnavailable
		resp.Ok = false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("failed to encode health response", "err", err.Error())
	}
}
