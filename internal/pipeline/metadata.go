package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

// UnknownSummary is used for camera and settings summaries when the source carries no capture data.
const UnknownSummary = "Unknown"

// ExtractMetadata returns the intrinsic properties of the decoded image and whatever
// capture attributes the source embeds. Width, height, format and byte size are always set.
// Capture extraction problems leave the capture fields absent.
func ExtractMetadata(data []byte, img image.Image, format api.ImageFormat) api.ImageMetadata {

	bounds := img.Bounds()
	meta := api.ImageMetadata{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Format:   format,
		ByteSize: int64(len(data)),
	}

	log := slog.Default().
		With(slog.String(util.PackageKey, util.PackagePipeline)).
		With(slog.String(util.ComponentKey, util.ComponentMetadata))

	block, err := exifBlock(data, format)
	if err != nil {
		if !errors.Is(err, errNoExif) {
			log.Debug(fmt.Sprintf("failed to locate exif in %s source", format), "err", err.Error())
		}
		return meta
	}

	if err := readExif(block, &meta); err != nil {
		log.Debug(fmt.Sprintf("no capture attributes read from %s source", format), "err", err.Error())
	}

	return meta
}

// readExif decodes a jpeg buffer or a raw tiff block into the capture fields of meta.
// goexif can panic on malformed blocks, so a panic is converted to an error.
func readExif(data []byte, meta *api.ImageMetadata) (err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to read exif: %v", r)
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil || x == nil {
		return fmt.Errorf("failed to read exif: %v", err)
	}

	meta.CameraMake = tagToString(exif.Make, x)
	meta.CameraModel = tagToString(exif.Model, x)
	meta.LensModel = tagToString(exif.LensModel, x)

	if v, ok := tagToFloat(exif.FocalLength, x); ok && v > 0 {
		meta.FocalLength = &v
	}

	if v, ok := tagToFloat(exif.FNumber, x); ok && v > 0 {
		meta.Aperture = &v
	}

	if t, err := x.Get(exif.ExposureTime); err == nil && t != nil {
		if num, den, err := t.Rat2(0); err == nil {
			meta.ExposureTime = formatExposure(num, den)
		}
	}

	if v, ok := tagToInt(exif.ISOSpeedRatings, x); ok && v > 0 {
		meta.Iso = &v
	}

	if v, ok := tagToInt(exif.Flash, x); ok {
		if v&1 == 1 {
			meta.Flash = "fired"
		} else {
			meta.Flash = "did not fire"
		}
	}

	if v, ok := tagToInt(exif.WhiteBalance, x); ok {
		switch v {
		case 0:
			meta.WhiteBalance = "auto"
		case 1:
			meta.WhiteBalance = "manual"
		}
	}

	// best effort: DateTimeOriginal, then DateTime
	if taken, err := x.DateTime(); err == nil && !taken.IsZero() {
		meta.CapturedAt = &taken
	}

	if v, ok := tagToInt(exif.Orientation, x); ok && v >= 1 && v <= 8 {
		meta.Orientation = v
	}

	return nil
}

// tagToString reads an ascii tag, trimming padding.
func tagToString(tag exif.FieldName, x *exif.Exif) string {

	if t, err := x.Get(tag); err == nil && t != nil {
		if s, err := t.StringVal(); err == nil {
			return strings.TrimSpace(strings.Trim(s, "\x00"))
		}
	}

	return ""
}

// tagToInt reads an integer tag, falling back to a rational.
func tagToInt(tag exif.FieldName, x *exif.Exif) (int, bool) {

	if t, err := x.Get(tag); err == nil && t != nil {

		if i, err := t.Int(0); err == nil {
			return i, true
		}

		if num, den, err := t.Rat2(0); err == nil && den != 0 {
			return int(num / den), true
		}
	}

	return 0, false
}

// tagToFloat reads a rational tag, rounded to two decimals.
func tagToFloat(tag exif.FieldName, x *exif.Exif) (float64, bool) {

	if t, err := x.Get(tag); err == nil && t != nil {

		if num, den, err := t.Rat2(0); err == nil && den != 0 {
			return math.Round(float64(num)/float64(den)*100) / 100, true
		}

		if i, err := t.Int(0); err == nil {
			return float64(i), true
		}
	}

	return 0, false
}

// formatExposure renders an exposure time rational as a reduced fraction ("1/250"),
// or as seconds when it is one second or longer ("2", "2.5").
func formatExposure(num, den int64) string {

	if num <= 0 || den <= 0 {
		return ""
	}

	if num >= den {
		return strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
	}

	g := gcd(num, den)
	return fmt.Sprintf("%d/%d", num/g, den/g)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// CameraSummary renders make and model as one human readable string,
// dropping the make when the model already starts with it.
func CameraSummary(meta api.ImageMetadata) string {

	cameraMake := strings.TrimSpace(meta.CameraMake)
	model := strings.TrimSpace(meta.CameraModel)

	switch {
	case cameraMake == "" && model == "":
		return UnknownSummary
	case cameraMake == "":
		return model
	case model == "":
		return cameraMake
	case strings.HasPrefix(strings.ToLower(model), strings.ToLower(cameraMake)):
		return model
	default:
		return cameraMake + " " + model
	}
}

// SettingsSummary renders the exposure triangle, eg "50mm f/1.8 1/250s ISO 100".
func SettingsSummary(meta api.ImageMetadata) string {

	var parts []string

	if meta.FocalLength != nil {
		parts = append(parts, strconv.FormatFloat(*meta.FocalLength, 'f', -1, 64)+"mm")
	}

	if meta.Aperture != nil {
		parts = append(parts, "f/"+strconv.FormatFloat(*meta.Aperture, 'f', -1, 64))
	}

	if meta.ExposureTime != "" {
		parts = append(parts, meta.ExposureTime+"s")
	}

	if meta.Iso != nil {
		parts = append(parts, fmt.Sprintf("ISO %d", *meta.Iso))
	}

	if len(parts) == 0 {
		return UnknownSummary
	}

	return strings.Join(parts, " ")
}
