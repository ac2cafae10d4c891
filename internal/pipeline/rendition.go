package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"log/slog"

	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/webp"
)

// Tier is one rendition size/quality level. A Box of 0 means the tier is not resized.
type Tier struct {
	Name    string `yaml:"name"`
	Box     int    `yaml:"box"`
	Quality int    `yaml:"quality"`
}

// Config holds the rendition tiers and the source pixel ceiling.
type Config struct {
	Thumbnail Tier `yaml:"thumbnail"`
	Display   Tier `yaml:"display"`
	Detail    Tier `yaml:"detail"`
	Original  Tier `yaml:"original"`

	// MaxPixels rejects sources whose width*height is larger, before the full decode.
	MaxPixels int `yaml:"max_pixels"`
}

// DefaultConfig returns the standard portfolio tiers.
func DefaultConfig() Config {
	return Config{
		Thumbnail: Tier{Name: util.TierThumbnail, Box: util.ThumbnailBox, Quality: util.ThumbnailQuality},
		Display:   Tier{Name: util.TierDisplay, Box: util.DisplayBox, Quality: util.DisplayQuality},
		Detail:    Tier{Name: util.TierDetail, Box: util.DetailBox, Quality: util.DetailQuality},
		Original:  Tier{Name: util.TierOriginal, Box: 0, Quality: util.OriginalQuality},
		MaxPixels: util.MaxPixels,
	}
}

// ProcessedImage is the output of the rendition processor: four jpeg buffers derived from
// the same source, plus the source's metadata. It is never persisted as a struct.
type ProcessedImage struct {
	Thumbnail []byte
	Display   []byte
	Detail    []byte
	Original  []byte

	Metadata api.ImageMetadata
}

// Processor turns a raw image buffer into its renditions.
type Processor interface {

	// ProcessImage decodes the buffer once and derives all four renditions.
	// Either every rendition is returned or an error is.
	ProcessImage(data []byte) (*ProcessedImage, error)
}

// NewProcessor creates a new rendition processor, returning a pointer to the concrete implementation.
func NewProcessor(cfg Config) Processor {

	def := DefaultConfig()
	cfg.Thumbnail = withDefaults(cfg.Thumbnail, def.Thumbnail)
	cfg.Display = withDefaults(cfg.Display, def.Display)
	cfg.Detail = withDefaults(cfg.Detail, def.Detail)
	cfg.Original = withDefaults(cfg.Original, def.Original)
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}

	return &processor{
		cfg: cfg,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackagePipeline)).
			With(slog.String(util.ComponentKey, util.ComponentProcessor)),
	}
}

var _ Processor = (*processor)(nil)

type processor struct {
	cfg Config

	logger *slog.Logger
}

// ProcessImage is the concrete implementation of the interface method.
func (p *processor) ProcessImage(data []byte) (*ProcessedImage, error) {

	format, ok := DetectFormat(data)
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	// check dimensions before allocating the full bitmap
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > p.cfg.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	meta := ExtractMetadata(data, src, format)

	// renditions are stored without exif, so bake the orientation into the pixels
	upright := orient(src, meta.Orientation)

	tiers := []Tier{p.cfg.Thumbnail, p.cfg.Display, p.cfg.Detail, p.cfg.Original}
	out := make([][]byte, len(tiers))

	var g errgroup.Group
	for i, tier := range tiers {
		g.Go(func() error {
			b, err := encodeToJpeg(resizeToFit(upright, tier.Box), tier.Quality)
			if err != nil {
				return fmt.Errorf("failed to render %s tier: %w", tier.Name, err)
			}
			out[i] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug(fmt.Sprintf("rendered %s source %dx%d (%d bytes)", format, meta.Width, meta.Height, meta.ByteSize))

	return &ProcessedImage{
		Thumbnail: out[0],
		Display:   out[1],
		Detail:    out[2],
		Original:  out[3],
		Metadata:  meta,
	}, nil
}

// withDefaults fills unset tier fields from the default tier.
func withDefaults(t, def Tier) Tier {

	if t.Name == "" {
		t.Name = def.Name
	}
	if t.Box <= 0 {
		t.Box = def.Box
	}
	if t.Quality <= 0 || t.Quality > 100 {
		t.Quality = def.Quality
	}

	return t
}
