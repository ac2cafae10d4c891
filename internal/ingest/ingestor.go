// Package ingest turns a batch of uploaded files into stored renditions and photo records.
// It never writes to the catalog: callers persist the returned records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/pipeline"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
	"golang.org/x/sync/errgroup"
)

const renditionContentType = "image/jpeg"

// Stage is a step of a file's progress through ingestion.
type Stage string

const (
	StageReceived  Stage = "received"
	StageValidated Stage = "validated"
	StageDecoded   Stage = "decoded"
	StageRendered  Stage = "rendered"
	StagePersisted Stage = "persisted"
	StageRecorded  Stage = "recorded"
	StageRejected  Stage = "rejected"
	StageFailed    Stage = "failed"
)

// UploadedImage is one file of a batch.
type UploadedImage struct {
	Filename string
	Data     []byte
}

// Failure reports why a file did not become a photo.
type Failure struct {
	Filename string `json:"filename"`
	Stage    Stage  `json:"stage"` // rejected or failed
	Reason   string `json:"reason"`

	err error
}

// Err returns the underlying error.
func (f Failure) Err() error { return f.err }

// Result is the outcome of a batch. Both lists keep submission order.
type Result struct {
	Succeeded []api.PhotoRecord
	Failed    []Failure
	Submitted int
}

// FailedFilenames returns the names of the files that did not become photos.
func (r *Result) FailedFilenames() []string {
	names := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		names[i] = f.Filename
	}
	return names
}

// Config bounds the orchestrator's resource use.
type Config struct {
	// Workers is the number of files processed concurrently.
	Workers int `yaml:"workers"`

	// MaxFileBytes rejects larger files before decoding.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// Ingestor is the interface for the batch ingestion orchestrator.
type Ingestor interface {

	// Ingest validates, renders and stores every file of the batch independently.
	// It fails as a whole only for an empty batch, an invalid category, a cancelled
	// context, or when no file succeeded. In the last case the result is still returned
	// so callers can report every failed filename.
	Ingest(ctx context.Context, files []UploadedImage, category api.Category) (*Result, error)
}

// NewIngestor creates a new ingestion orchestrator, returning a pointer to the concrete implementation.
// The logger and recorder are injected so callers decide where batch telemetry goes.
func NewIngestor(p pipeline.Processor, s storage.Store, rec metrics.Recorder, logger *slog.Logger, cfg Config) Ingestor {

	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = util.MaxFileBytes
	}
	if rec == nil {
		rec = metrics.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ingestor{
		processor: p,
		store:     s,
		rec:       rec,
		cfg:       cfg,
		newId:     newPhotoId,

		logger: logger.
			With(slog.String(util.PackageKey, util.PackageIngest)).
			With(slog.String(util.ComponentKey, util.ComponentIngestor)),
	}
}

var _ Ingestor = (*ingestor)(nil)

type ingestor struct {
	processor pipeline.Processor
	store     storage.Store
	rec       metrics.Recorder
	cfg       Config
	newId     func() (string, error)

	logger *slog.Logger
}

func newPhotoId() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// outcome is the per-file result slot, written by exactly one worker.
type outcome struct {
	record  *api.PhotoRecord
	failure *Failure
}

// Ingest is the concrete implementation of the interface method.
func (i *ingestor) Ingest(ctx context.Context, files []UploadedImage, category api.Category) (*Result, error) {

	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	log := i.logger.With("category", string(category), "batch_size", len(files))
	log.Info("ingesting batch")

	ids := &idSet{seen: make(map[string]struct{}, len(files)), generate: i.newId}
	outcomes := make([]outcome, len(files))

	var g errgroup.Group
	g.SetLimit(i.cfg.Workers)
	for idx, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[idx] = outcome{failure: fail(f.Filename, StageFailed, err)}
				return nil
			}
			outcomes[idx] = i.processFile(ctx, f, category, ids)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors: failures are isolated per file

	if err := ctx.Err(); err != nil {
		log.Warn("batch cancelled, renditions already written may be orphaned", "err", err.Error())
		i.rec.BatchProcessed(metrics.OutcomeFailed)
		return nil, fmt.Errorf("ingestion cancelled: %w", err)
	}

	result := &Result{Submitted: len(files)}
	var rejected, storageFailures int
	for _, o := range outcomes {
		if o.record != nil {
			result.Succeeded = append(result.Succeeded, *o.record)
			continue
		}

		result.Failed = append(result.Failed, *o.failure)
		if o.failure.Stage == StageRejected {
			rejected++
		}
		if errors.Is(o.failure.err, ErrStorageWrite) {
			storageFailures++
		}
	}

	if len(result.Succeeded) == 0 {
		i.rec.BatchProcessed(metrics.OutcomeFailed)

		// every valid file died writing to storage: that is an outage, not bad input
		if storageFailures > 0 && storageFailures == len(result.Failed)-rejected {
			log.Error(fmt.Sprintf("all %d valid files failed to write to storage", storageFailures))
			return result, fmt.Errorf("%w: %d of %d files", ErrStorageWrite, storageFailures, len(files))
		}

		log.Warn("no images processed", "failed", strings.Join(result.FailedFilenames(), ", "))
		return result, fmt.Errorf("%w: %d files submitted", ErrNoImagesProcessed, len(files))
	}

	if len(result.Failed) > 0 {
		i.rec.BatchProcessed(metrics.OutcomePartial)
		log.Warn(fmt.Sprintf("processed %d of %d files", len(result.Succeeded), len(files)),
			"failed", strings.Join(result.FailedFilenames(), ", "))
	} else {
		i.rec.BatchProcessed(metrics.OutcomeSucceeded)
		log.Info(fmt.Sprintf("processed %d of %d files", len(result.Succeeded), len(files)))
	}

	return result, nil
}

// processFile walks one file through the stages. It never panics the batch and
// never returns an error: every problem becomes a Failure.
func (i *ingestor) processFile(ctx context.Context, f UploadedImage, category api.Category, ids *idSet) (out outcome) {

	start := time.Now()
	log := i.logger.With("filename", f.Filename)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing file", "panic", fmt.Sprint(r))
			out = outcome{failure: fail(f.Filename, StageFailed, fmt.Errorf("internal error: %v", r))}
		}

		switch {
		case out.record != nil:
			i.rec.FileProcessed(metrics.OutcomeSucceeded, time.Since(start))
		case out.failure != nil && out.failure.Stage == StageRejected:
			i.rec.FileProcessed(metrics.OutcomeRejected, time.Since(start))
		default:
			i.rec.FileProcessed(metrics.OutcomeFailed, time.Since(start))
		}
	}()

	log.Debug("file stage", "stage", StageReceived, "bytes", len(f.Data))

	if int64(len(f.Data)) > i.cfg.MaxFileBytes {
		log.Warn("file rejected", "err", ErrFileTooLarge.Error())
		return outcome{failure: fail(f.Filename, StageRejected, fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, len(f.Data), i.cfg.MaxFileBytes))}
	}

	if !pipeline.IsValidImage(f.Data) {
		log.Warn("file rejected", "err", ErrNotAnImage.Error())
		return outcome{failure: fail(f.Filename, StageRejected, ErrNotAnImage)}
	}
	log.Debug("file stage", "stage", StageValidated)

	processed, err := i.processor.ProcessImage(f.Data)
	if err != nil {
		log.Error("failed to render file", "err", err.Error())
		return outcome{failure: fail(f.Filename, StageFailed, err)}
	}
	log.Debug("file stage", "stage", StageRendered,
		"width", processed.Metadata.Width, "height", processed.Metadata.Height, "format", string(processed.Metadata.Format))

	id, err := ids.next()
	if err != nil {
		log.Error("failed to generate photo id", "err", err.Error())
		return outcome{failure: fail(f.Filename, StageFailed, err)}
	}

	keys := KeysFor(category, id)
	if err := i.writeRenditions(ctx, keys, processed); err != nil {
		log.Error("failed to persist renditions", "photo_id", id, "err", err.Error())
		return outcome{failure: fail(f.Filename, StageFailed, err)}
	}
	log.Debug("file stage", "stage", StagePersisted, "photo_id", id)

	record := buildRecord(id, f.Filename, keys, processed.Metadata)
	log.Debug("file stage", "stage", StageRecorded, "photo_id", id)

	return outcome{record: &record}
}

// writeRenditions stores all four buffers. If any write fails, the ones already written
// are removed so no photo is left with a partial set.
func (i *ingestor) writeRenditions(ctx context.Context, keys RenditionKeys, p *pipeline.ProcessedImage) error {

	writes := []struct {
		key  string
		data []byte
	}{
		{keys.Thumbnail, p.Thumbnail},
		{keys.Display, p.Display},
		{keys.Detail, p.Detail},
		{keys.Original, p.Original},
	}

	written := make([]string, 0, len(writes))
	for _, w := range writes {
		if err := i.store.Put(ctx, w.key, w.data, renditionContentType); err != nil {

			// cleanup must run even if the batch context was cancelled
			if cleanupErr := storage.DeleteAll(context.WithoutCancel(ctx), i.store, written...); cleanupErr != nil {
				i.logger.Error("failed to remove partial renditions", "err", cleanupErr.Error())
			}

			return fmt.Errorf("%w: %s: %v", ErrStorageWrite, w.key, err)
		}
		written = append(written, w.key)
	}

	return nil
}

// buildRecord assembles the catalog record for a stored photo.
func buildRecord(id, filename string, keys RenditionKeys, meta api.ImageMetadata) api.PhotoRecord {

	title := titleFromFilename(filename)
	if title == "" {
		title = id
	}

	// displayed dimensions: orientations 5-8 swap the axes
	width, height := meta.Width, meta.Height
	if meta.Orientation >= 5 {
		width, height = height, width
	}

	return api.PhotoRecord{
		Id:          id,
		Src:         keys.Display,
		DetailSrc:   keys.Detail,
		OriginalSrc: keys.Original,
		Thumbnail:   keys.Thumbnail,
		Title:       title,
		Alt:         title,
		Camera:      pipeline.CameraSummary(meta),
		Settings:    pipeline.SettingsSummary(meta),
		Tags:        []string{},
		Width:       width,
		Height:      height,
		CapturedAt:  meta.CapturedAt,
		CreatedAt:   time.Now().UTC(),
	}
}

// titleFromFilename is the base name without its extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

func fail(filename string, stage Stage, err error) *Failure {
	return &Failure{Filename: filename, Stage: stage, Reason: err.Error(), err: err}
}

// idSet hands out photo ids that are unique within the batch, regenerating on collision.
type idSet struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	generate func() (string, error)
}

const maxIdAttempts = 5

func (s *idSet) next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < maxIdAttempts; attempt++ {
		id, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate photo id: %v", err)
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		return id, nil
	}

	return "", fmt.Errorf("failed to generate a unique photo id after %d attempts", maxIdAttempts)
}
