package api

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tdeslauriers/carapace/pkg/validate"
)

const (
	PhotoTitleRegex = `^[\p{L}\p{N}\s\-_'&,.!?:()/]{1,128}$`
	AltRegex        = `^[\p{L}\p{N}\p{P}\s]{0,255}$`
	SummaryRegex    = `^[\p{L}\p{N}\p{P}\p{S}\s]{0,128}$` // camera and settings summaries

	TagRegex = `^[\p{L}\p{N}\-_ ]{1,32}$`
	MaxTags  = 20
)

// ImmutablePhotoFields are the json fields an update must never carry:
// rendition keys are bound to the source image they were derived from.
var ImmutablePhotoFields = []string{"id", "album_id", "src", "detail_src", "original_src", "thumbnail"}

// ImageFormat is a source image encoding recognized by magic number.
type ImageFormat string

const (
	FormatJpeg ImageFormat = "jpeg"
	FormatPng  ImageFormat = "png"
	FormatWebp ImageFormat = "webp"
)

// ImageMetadata holds the intrinsic properties of a decoded source image and
// any capture attributes embedded in it. Capture attributes are absent (nil or empty)
// when the source does not carry them.
type ImageMetadata struct {
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	Format   ImageFormat `json:"format"`
	ByteSize int64       `json:"byte_size"`

	CameraMake   string     `json:"camera_make,omitempty"`
	CameraModel  string     `json:"camera_model,omitempty"`
	LensModel    string     `json:"lens_model,omitempty"`
	FocalLength  *float64   `json:"focal_length,omitempty"` // millimetres
	Aperture     *float64   `json:"aperture,omitempty"`     // f-number
	ExposureTime string     `json:"exposure_time,omitempty"`
	Iso          *int       `json:"iso,omitempty"`
	Flash        string     `json:"flash,omitempty"`
	WhiteBalance string     `json:"white_balance,omitempty"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`

	// exif orientation 1-8, 0 when absent
	Orientation int `json:"orientation,omitempty"`
}

// PhotoRecord is the catalog's persisted representation of a photo.
// Src, DetailSrc, OriginalSrc and Thumbnail are storage-relative keys.
type PhotoRecord struct {
	Id          string     `json:"id"`
	AlbumId     string     `json:"album_id,omitempty"`
	Src         string     `json:"src"`
	DetailSrc   string     `json:"detail_src"`
	OriginalSrc string     `json:"original_src"`
	Thumbnail   string     `json:"thumbnail"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Alt         string     `json:"alt"`
	Camera      string     `json:"camera,omitempty"`
	Settings    string     `json:"settings,omitempty"`
	Tags        []string   `json:"tags"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Keys returns the four rendition keys of the photo.
func (p *PhotoRecord) Keys() []string {
	return []string{p.Thumbnail, p.Src, p.DetailSrc, p.OriginalSrc}
}

// ValidateKeys checks that a photo record handed back by a client still carries an id
// and four clean storage keys.
func (p *PhotoRecord) ValidateKeys() error {

	if strings.TrimSpace(p.Id) == "" {
		return fmt.Errorf("photo id is required")
	}

	for _, k := range p.Keys() {
		if k == "" {
			return fmt.Errorf("photo %s is missing a rendition key", p.Id)
		}
		if strings.Contains(k, "..") || strings.Contains(k, "\\") || strings.HasPrefix(k, "/") || path.Clean(k) != k {
			return fmt.Errorf("photo %s has an invalid rendition key: %s", p.Id, k)
		}
	}

	if len(p.Tags) > MaxTags {
		return fmt.Errorf("photo %s has more than %d tags", p.Id, MaxTags)
	}

	return nil
}

// Photo is the api view of a photo: rendition keys are resolved to urls.
type Photo struct {
	Id          string     `json:"id"`
	AlbumId     string     `json:"album_id,omitempty"`
	Src         string     `json:"src"`
	DetailSrc   string     `json:"detail_src"`
	OriginalSrc string     `json:"original_src"`
	Thumbnail   string     `json:"thumbnail"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Alt         string     `json:"alt"`
	Camera      string     `json:"camera,omitempty"`
	Settings    string     `json:"settings,omitempty"`
	Tags        []string   `json:"tags"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	CapturedAt  *time.Time `json:"captured_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PhotoUpdateCmd is a partial update of a photo's descriptive fields.
// Rendition keys are not updatable.
type PhotoUpdateCmd struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Location    *string   `json:"location,omitempty"`
	Alt         *string   `json:"alt,omitempty"`
	Camera      *string   `json:"camera,omitempty"`
	Settings    *string   `json:"settings,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// Validate validates the fields present in the update.
func (cmd *PhotoUpdateCmd) Validate() error {

	if cmd.Title == nil && cmd.Description == nil && cmd.Location == nil &&
		cmd.Alt == nil && cmd.Camera == nil && cmd.Settings == nil && cmd.Tags == nil {
		return fmt.Errorf("no fields to update")
	}

	if cmd.Title != nil && !validate.MatchesRegex(strings.TrimSpace(*cmd.Title), PhotoTitleRegex) {
		return fmt.Errorf("title must be letters, numbers, spaces and basic punctuation, max 128 chars")
	}

	if cmd.Description != nil {
		if err := validateDescription(*cmd.Description); err != nil {
			return err
		}
	}

	if cmd.Location != nil {
		if err := validateLocation(*cmd.Location); err != nil {
			return err
		}
	}

	if cmd.Alt != nil && !validate.MatchesRegex(strings.TrimSpace(*cmd.Alt), AltRegex) {
		return fmt.Errorf("alt text must be printable text, max 255 chars")
	}

	if cmd.Camera != nil && !validate.MatchesRegex(strings.TrimSpace(*cmd.Camera), SummaryRegex) {
		return fmt.Errorf("camera must be printable text, max 128 chars")
	}

	if cmd.Settings != nil && !validate.MatchesRegex(strings.TrimSpace(*cmd.Settings), SummaryRegex) {
		return fmt.Errorf("settings must be printable text, max 128 chars")
	}

	if cmd.Tags != nil {
		if len(*cmd.Tags) > MaxTags {
			return fmt.Errorf("a photo may have at most %d tags", MaxTags)
		}
		for _, tag := range *cmd.Tags {
			if !validate.MatchesRegex(strings.TrimSpace(tag), TagRegex) {
				return fmt.Errorf("invalid tag: %q", tag)
			}
		}
	}

	return nil
}

// View maps the record to its api view, resolving each rendition key with url.
func (p *PhotoRecord) View(url func(key string) string) Photo {

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}

	return Photo{
		Id:          p.Id,
		AlbumId:     p.AlbumId,
		Src:         url(p.Src),
		DetailSrc:   url(p.DetailSrc),
		OriginalSrc: url(p.OriginalSrc),
		Thumbnail:   url(p.Thumbnail),
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		Alt:         p.Alt,
		Camera:      p.Camera,
		Settings:    p.Settings,
		Tags:        tags,
		Width:       p.Width,
		Height:      p.Height,
		CapturedAt:  p.CapturedAt,
		CreatedAt:   p.CreatedAt,
	}
}
