// Package sweep reconciles the rendition store with the catalog: files whose photo has no
// catalog record are orphans, left behind by cancelled uploads or failed deletes.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/ingest"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// DefaultGracePeriod keeps files young enough to belong to an upload still in flight.
const DefaultGracePeriod = time.Hour

// Options controls one sweep run.
type Options struct {
	GracePeriod time.Duration
	DryRun      bool
}

// Report summarizes a sweep run.
type Report struct {
	DryRun       bool     `json:"dry_run"`
	Scanned      int      `json:"scanned"`
	Referenced   int      `json:"referenced"`
	Unrecognized int      `json:"unrecognized"`
	TooRecent    int      `json:"too_recent"`
	Orphaned     int      `json:"orphaned"`
	Deleted      int      `json:"deleted"`
	OrphanKeys   []string `json:"orphan_keys"`
	Errors       []string `json:"errors,omitempty"`
}

// Sweeper is the interface for orphaned rendition cleanup.
type Sweeper interface {

	// Sweep lists every stored rendition and deletes those whose photo is not in the
	// catalog and which are older than the grace period.
	Sweep(ctx context.Context, opts Options) (*Report, error)
}

// NewSweeper creates a new sweeper, returning a pointer to the concrete implementation.
func NewSweeper(c catalog.Catalog, s storage.Store) Sweeper {
	return &sweeper{
		catalog: c,
		store:   s,
		now:     time.Now,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageSweep)).
			With(slog.String(util.ComponentKey, util.ComponentSweeper)),
	}
}

var _ Sweeper = (*sweeper)(nil)

type sweeper struct {
	catalog catalog.Catalog
	store   storage.Store
	now     func() time.Time

	logger *slog.Logger
}

// Sweep is the concrete implementation of the interface method.
func (s *sweeper) Sweep(ctx context.Context, opts Options) (*Report, error) {

	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	objects, err := s.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list renditions: %w", err)
	}

	report := &Report{DryRun: opts.DryRun, OrphanKeys: []string{}}
	cutoff := s.now().Add(-opts.GracePeriod)

	// one catalog lookup per photo, not per rendition
	known := make(map[string]bool)

	for _, obj := range objects {

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report.Scanned++

		_, id, ok := ingest.ParseKey(obj.Key)
		if !ok {
			report.Unrecognized++
			continue
		}

		exists, cached := known[id]
		if !cached {
			exists, err = s.catalog.PhotoExists(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to look up photo %s: %w", id, err)
			}
			known[id] = exists
		}

		if exists {
			report.Referenced++
			continue
		}

		if obj.ModTime.After(cutoff) {
			report.TooRecent++
			continue
		}

		report.Orphaned++
		report.OrphanKeys = append(report.OrphanKeys, obj.Key)

		if opts.DryRun {
			continue
		}

		if err := s.store.Delete(ctx, obj.Key); err != nil {
			s.logger.Error(fmt.Sprintf("failed to delete orphaned rendition %s", obj.Key), "err", err.Error())
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", obj.Key, err))
			continue
		}
		report.Deleted++
	}

	s.logger.Info(fmt.Sprintf("sweep scanned %d files: %d orphaned, %d deleted", report.Scanned, report.Orphaned, report.Deleted),
		"dry_run", opts.DryRun, "too_recent", report.TooRecent, "unrecognized", report.Unrecognized)

	return report, nil
}
