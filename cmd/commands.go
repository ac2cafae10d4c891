package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tdeslauriers/portfolio/internal/album"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/catalog"
	"github.com/tdeslauriers/portfolio/internal/gallery"
	"github.com/tdeslauriers/portfolio/internal/ingest"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/pipeline"
	"github.com/tdeslauriers/portfolio/internal/static"
	"github.com/tdeslauriers/portfolio/internal/sweep"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the http service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			cfg, buf, err := opts.load()
			if err != nil {
				return err
			}

			g, err := gallery.New(cmd.Context(), cfg, buf)
			if err != nil {
				return fmt.Errorf("failed to create %s service: %w", util.ServicePortfolio, err)
			}
			defer g.Close()

			return g.Run(cmd.Context())
		},
	}
}

type ingestFlags struct {
	category    string
	albumId     string
	title       string
	description string
	location    string
	featured    bool
}

func newIngestCmd(opts *rootOptions) *cobra.Command {

	f := &ingestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest [flags] FILE...",
		Short: "Process local image files into renditions and catalog them",
		Long: "Process local image files into renditions and catalog them. With --album-id the photos " +
			"are appended to that album; with --title a new album is created. Without either the " +
			"renditions are written but not cataloged, and a later sweep removes them.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, f, args)
		},
	}

	cmd.Flags().StringVar(&f.category, "category", "", "album category: travel or cosplay")
	cmd.Flags().StringVar(&f.albumId, "album-id", "", "append to this existing album")
	cmd.Flags().StringVar(&f.title, "title", "", "create a new album with this title")
	cmd.Flags().StringVar(&f.description, "description", "", "new album description")
	cmd.Flags().StringVar(&f.location, "location", "", "new album location")
	cmd.Flags().BoolVar(&f.featured, "featured", false, "feature the new album")
	_ = cmd.MarkFlagRequired("category")
	cmd.MarkFlagsMutuallyExclusive("album-id", "title")

	return cmd
}

func runIngest(cmd *cobra.Command, opts *rootOptions, f *ingestFlags, paths []string) error {

	ctx := cmd.Context()

	cfg, _, err := opts.load()
	if err != nil {
		return err
	}

	log := slog.Default().
		With(slog.String(util.PackageKey, util.PackageMain)).
		With(slog.String(util.ComponentKey, util.ComponentMain))

	category := api.Category(strings.ToLower(strings.TrimSpace(f.category)))
	if !category.IsValid() {
		return fmt.Errorf("%w: %s", ingest.ErrInvalidCategory, f.category)
	}

	// validate the album before any file is written
	var create *api.AddAlbumCmd
	if f.title != "" {
		create = &api.AddAlbumCmd{
			Title:       f.title,
			Description: f.description,
			Category:    category,
			Featured:    f.featured,
			Location:    f.location,
		}
		if err := create.Validate(); err != nil {
			return fmt.Errorf("invalid album: %w", err)
		}
	}

	files := make([]ingest.UploadedImage, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %v", p, err)
		}
		files = append(files, ingest.UploadedImage{Filename: filepath.Base(p), Data: data})
	}

	store, err := gallery.NewStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	db, err := catalog.OpenDb(cfg.Catalog.Path, cfg.Catalog.InMemory)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	cat := catalog.NewCatalog(db, metrics.Noop())
	albums := album.NewService(cat, store, static.NewResolver(cfg.Storage.PublicBaseURL))

	if f.albumId != "" {
		if _, err := albums.GetAlbum(ctx, f.albumId); err != nil {
			return fmt.Errorf("failed to find album %s: %w", f.albumId, err)
		}
	}

	ingestor := ingest.NewIngestor(pipeline.NewProcessor(cfg.Pipeline), store, metrics.Noop(), nil, cfg.Ingest)

	result, err := ingestor.Ingest(ctx, files, category)
	if result != nil {
		for _, failure := range result.Failed {
			log.Warn(fmt.Sprintf("%s %s: %s", failure.Filename, failure.Stage, failure.Reason))
		}
	}
	if err != nil {
		return err
	}

	out := struct {
		ProcessedCount int               `json:"processed_count"`
		SubmittedCount int               `json:"submitted_count"`
		AlbumId        string            `json:"album_id,omitempty"`
		Photos         []api.PhotoRecord `json:"photos"`
		Failed         []ingest.Failure  `json:"failed"`
	}{
		ProcessedCount: len(result.Succeeded),
		SubmittedCount: result.Submitted,
		Photos:         result.Succeeded,
		Failed:         result.Failed,
	}

	switch {
	case f.albumId != "":
		if _, err := albums.AddPhotos(ctx, f.albumId, result.Succeeded); err != nil {
			return fmt.Errorf("failed to add photos to album %s: %w", f.albumId, err)
		}
		out.AlbumId = f.albumId
	case create != nil:
		create.Photos = result.Succeeded
		created, err := albums.CreateAlbum(ctx, *create)
		if err != nil {
			return fmt.Errorf("failed to create album: %w", err)
		}
		out.AlbumId = created.Id
	default:
		log.Warn("renditions were written without an album, a sweep will remove them once they pass the grace period")
	}

	return writeJson(cmd.OutOrStdout(), out)
}

func newSweepCmd(opts *rootOptions) *cobra.Command {

	var sweepOpts sweep.Options

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete rendition files no catalog record references",
		Long: "Delete rendition files no catalog record references. The badger catalog is single " +
			"process, so against a running server use POST /admin/cleanup instead.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {

			ctx := cmd.Context()

			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("grace") {
				sweepOpts.GracePeriod = cfg.Sweep.GracePeriod
			}

			store, err := gallery.NewStore(ctx, cfg.Storage)
			if err != nil {
				return err
			}

			db, err := catalog.OpenDb(cfg.Catalog.Path, cfg.Catalog.InMemory)
			if err != nil {
				return fmt.Errorf("failed to open catalog: %w", err)
			}
			defer db.Close()

			report, err := sweep.NewSweeper(catalog.NewCatalog(db, metrics.Noop()), store).Sweep(ctx, sweepOpts)
			if err != nil {
				return err
			}

			return writeJson(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().BoolVar(&sweepOpts.DryRun, "dry-run", false, "report orphans without deleting them")
	cmd.Flags().DurationVar(&sweepOpts.GracePeriod, "grace", sweep.DefaultGracePeriod, "skip files modified more recently than this")

	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [PASSWORD]",
		Short: "Print the bcrypt hash for ADMIN_PASSWORD_HASH. Reads stdin when no argument is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {

			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return fmt.Errorf("failed to read password: %v", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			if password == "" {
				return fmt.Errorf("password is required")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func writeJson(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
