package pipeline

import (
	"bytes"
	"encoding/json"
	"image"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdeslauriers/portfolio/internal/pipeline/pipelinetest"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

func ptr[T any](v T) *T { return &v }

func TestExtractMetadataWithExif(t *testing.T) {

	src := pipelinetest.WithExif(pipelinetest.Jpeg(64, 48), pipelinetest.Exif{
		Make:         "Canon",
		Model:        "Canon EOS R6",
		LensModel:    "RF50mm F1.8 STM",
		Orientation:  1,
		FocalLength:  [2]uint32{50, 1},
		FNumber:      [2]uint32{18, 10},
		ExposureTime: [2]uint32{10, 2500},
		Iso:          400,
		Flash:        ptr(uint16(16)),
		WhiteBalance: ptr(uint16(0)),
		DateTime:     "2023:05:14 10:30:00",
	})

	img, _, err := image.Decode(bytes.NewReader(src))
	require.NoError(t, err)

	meta := ExtractMetadata(src, img, api.FormatJpeg)

	assert.Equal(t, 64, meta.Width)
	assert.Equal(t, 48, meta.Height)
	assert.Equal(t, api.FormatJpeg, meta.Format)
	assert.Equal(t, int64(len(src)), meta.ByteSize)

	assert.Equal(t, "Canon", meta.CameraMake)
	assert.Equal(t, "Canon EOS R6", meta.CameraModel)
	assert.Equal(t, "RF50mm F1.8 STM", meta.LensModel)
	require.NotNil(t, meta.FocalLength)
	assert.Equal(t, 50.0, *meta.FocalLength)
	require.NotNil(t, meta.Aperture)
	assert.Equal(t, 1.8, *meta.Aperture)
	assert.Equal(t, "1/250", meta.ExposureTime)
	require.NotNil(t, meta.Iso)
	assert.Equal(t, 400, *meta.Iso)
	assert.Equal(t, "did not fire", meta.Flash)
	assert.Equal(t, "auto", meta.WhiteBalance)
	assert.Equal(t, 1, meta.Orientation)

	require.NotNil(t, meta.CapturedAt)
	assert.Equal(t, 2023, meta.CapturedAt.Year())
	assert.Equal(t, time.May, meta.CapturedAt.Month())
	assert.Equal(t, 14, meta.CapturedAt.Day())

	assert.Equal(t, "Canon EOS R6", CameraSummary(meta))
	assert.Equal(t, "50mm f/1.8 1/250s ISO 400", SettingsSummary(meta))
}

func TestExtractMetadataWithoutExif(t *testing.T) {

	for _, tc := range []struct {
		name   string
		data   []byte
		format api.ImageFormat
	}{
		{name: "jpeg", data: pipelinetest.Jpeg(30, 20), format: api.FormatJpeg},
		{name: "png", data: pipelinetest.Png(30, 20), format: api.FormatPng},
	} {
		t.Run(tc.name, func(t *testing.T) {

			img, _, err := image.Decode(bytes.NewReader(tc.data))
			require.NoError(t, err)

			meta := ExtractMetadata(tc.data, img, tc.format)
			assert.Equal(t, api.ImageMetadata{Width: 30, Height: 20, Format: tc.format, ByteSize: int64(len(tc.data))}, meta)
			assert.Equal(t, UnknownSummary, CameraSummary(meta))
			assert.Equal(t, UnknownSummary, SettingsSummary(meta))
		})
	}
}

func TestExtractMetadataExifChunks(t *testing.T) {

	capture := pipelinetest.Exif{
		Make:         "FUJIFILM",
		Model:        "X-T4",
		FocalLength:  [2]uint32{35, 1},
		FNumber:      [2]uint32{2, 1},
		ExposureTime: [2]uint32{1, 500},
		Iso:          160,
		DateTime:     "2024:09:02 18:45:10",
	}

	testCases := []struct {
		name   string
		data   []byte
		format api.ImageFormat
		width  int
	}{
		{"png exif chunk", pipelinetest.PngWithExif(pipelinetest.Png(40, 30), capture), api.FormatPng, 40},
		{"webp exif chunk", pipelinetest.WebpWithExif(capture), api.FormatWebp, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {

			format, ok := DetectFormat(tc.data)
			require.True(t, ok)
			require.Equal(t, tc.format, format)

			img, _, err := image.Decode(bytes.NewReader(tc.data))
			require.NoError(t, err)

			meta := ExtractMetadata(tc.data, img, tc.format)
			assert.Equal(t, tc.width, meta.Width)
			assert.Equal(t, "FUJIFILM", meta.CameraMake)
			assert.Equal(t, "X-T4", meta.CameraModel)
			assert.Equal(t, "1/500", meta.ExposureTime)
			require.NotNil(t, meta.Iso)
			assert.Equal(t, 160, *meta.Iso)
			require.NotNil(t, meta.CapturedAt)
			assert.Equal(t, 2024, meta.CapturedAt.Year())

			assert.Equal(t, "FUJIFILM X-T4", CameraSummary(meta))
			assert.Equal(t, "35mm f/2 1/500s ISO 160", SettingsSummary(meta))
		})
	}
}

func TestExifBlockAbsent(t *testing.T) {

	testCases := []struct {
		name   string
		data   []byte
		format api.ImageFormat
	}{
		{"png", pipelinetest.Png(8, 8), api.FormatPng},
		{"padded png", pipelinetest.PadPng(pipelinetest.Png(8, 8), 4096), api.FormatPng},
		{"webp", pipelinetest.Webp(), api.FormatWebp},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := exifBlock(tc.data, tc.format)
			assert.ErrorIs(t, err, errNoExif)
		})
	}

	// a chunk length running past the end of the buffer
	truncated := pipelinetest.PngWithExif(pipelinetest.Png(8, 8), pipelinetest.Exif{Make: "Leica"})[:45]
	_, err := exifBlock(truncated, api.FormatPng)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errNoExif)
}

func TestExtractMetadataMalformedExif(t *testing.T) {

	// an exif app segment with a garbage tiff body must not abort extraction
	src := pipelinetest.Jpeg(10, 10)
	bad := append([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0x00, 0x10}, []byte("Exif\x00\x00MM\x00*\xFF\xFF\xFF\xFF")...)
	bad = append(bad, src[2:]...)

	img, _, err := image.Decode(bytes.NewReader(bad))
	require.NoError(t, err)

	var out bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	meta := ExtractMetadata(bad, img, api.FormatJpeg)
	assert.Equal(t, 10, meta.Width)
	assert.Nil(t, meta.CapturedAt)
	assert.Empty(t, meta.CameraMake)

	// the parse failure is logged at debug, not dropped
	var record map[string]any
	require.NoError(t, json.NewDecoder(&out).Decode(&record), out.String())
	assert.Equal(t, slog.LevelDebug.String(), record["level"])
	assert.Equal(t, util.PackagePipeline, record[util.PackageKey])
	assert.Equal(t, util.ComponentMetadata, record[util.ComponentKey])
	assert.NotEmpty(t, record["err"])
}

func TestFormatExposure(t *testing.T) {

	testCases := []struct {
		num, den int64
		expected string
	}{
		{1, 250, "1/250"},
		{10, 2500, "1/250"},
		{3, 10, "3/10"},
		{1, 1, "1"},
		{2, 1, "2"},
		{5, 2, "2.5"},
		{0, 1, ""},
		{1, 0, ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, formatExposure(tc.num, tc.den), "%d/%d", tc.num, tc.den)
	}
}

func TestCameraSummary(t *testing.T) {

	testCases := []struct {
		name     string
		meta     api.ImageMetadata
		expected string
	}{
		{name: "make not repeated in model", meta: api.ImageMetadata{CameraMake: "NIKON CORPORATION", CameraModel: "NIKON Z 6"}, expected: "NIKON CORPORATION NIKON Z 6"},
		{name: "model repeats make", meta: api.ImageMetadata{CameraMake: "Canon", CameraModel: "Canon EOS R5"}, expected: "Canon EOS R5"},
		{name: "distinct", meta: api.ImageMetadata{CameraMake: "FUJIFILM", CameraModel: "X-T4"}, expected: "FUJIFILM X-T4"},
		{name: "make only", meta: api.ImageMetadata{CameraMake: "SONY"}, expected: "SONY"},
		{name: "model only", meta: api.ImageMetadata{CameraModel: "ILCE-7M3"}, expected: "ILCE-7M3"},
		{name: "none", meta: api.ImageMetadata{}, expected: UnknownSummary},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, CameraSummary(tc.meta))
		})
	}
}

func TestSettingsSummaryPartial(t *testing.T) {

	meta := api.ImageMetadata{Aperture: ptr(2.8), Iso: ptr(100)}
	assert.Equal(t, "f/2.8 ISO 100", SettingsSummary(meta))
}
