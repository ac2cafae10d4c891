package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitInside(t *testing.T) {

	testCases := []struct {
		name      string
		w, h, box int
		expectedW int
		expectedH int
	}{
		{name: "landscape 4:3", w: 2000, h: 1500, box: 400, expectedW: 400, expectedH: 300},
		{name: "portrait", w: 1500, h: 2000, box: 800, expectedW: 600, expectedH: 800},
		{name: "square", w: 1000, h: 1000, box: 900, expectedW: 900, expectedH: 900},
		{name: "smaller than box", w: 200, h: 150, box: 400, expectedW: 200, expectedH: 150},
		{name: "exactly box", w: 400, h: 400, box: 400, expectedW: 400, expectedH: 400},
		{name: "one edge over", w: 401, h: 100, box: 400, expectedW: 400, expectedH: 100},
		{name: "extreme panorama keeps one pixel", w: 10000, h: 1, box: 400, expectedW: 400, expectedH: 1},
		{name: "no box", w: 5000, h: 3000, box: 0, expectedW: 5000, expectedH: 3000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := fitInside(tc.w, tc.h, tc.box)
			assert.Equal(t, tc.expectedW, w)
			assert.Equal(t, tc.expectedH, h)
		})
	}
}

func TestResizeToFitReturnsSourceWhenSmall(t *testing.T) {

	src := image.NewRGBA(image.Rect(0, 0, 50, 20))
	assert.Same(t, src, resizeToFit(src, 400).(*image.RGBA))

	resized := resizeToFit(src, 10)
	assert.Equal(t, 10, resized.Bounds().Dx())
	assert.Equal(t, 4, resized.Bounds().Dy())
}

func TestOrient(t *testing.T) {

	// 3x2 source with a marked top-left pixel
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker)

	testCases := []struct {
		orientation int
		w, h        int
		markerAt    image.Point
	}{
		{orientation: 1, w: 3, h: 2, markerAt: image.Pt(0, 0)},
		{orientation: 2, w: 3, h: 2, markerAt: image.Pt(2, 0)},
		{orientation: 3, w: 3, h: 2, markerAt: image.Pt(2, 1)},
		{orientation: 4, w: 3, h: 2, markerAt: image.Pt(0, 1)},
		{orientation: 5, w: 2, h: 3, markerAt: image.Pt(0, 0)},
		{orientation: 6, w: 2, h: 3, markerAt: image.Pt(1, 0)},
		{orientation: 7, w: 2, h: 3, markerAt: image.Pt(1, 2)},
		{orientation: 8, w: 2, h: 3, markerAt: image.Pt(0, 2)},
	}

	for _, tc := range testCases {
		out := orient(src, tc.orientation)
		require.Equal(t, tc.w, out.Bounds().Dx(), "orientation %d width", tc.orientation)
		require.Equal(t, tc.h, out.Bounds().Dy(), "orientation %d height", tc.orientation)

		r, _, _, _ := out.At(tc.markerAt.X, tc.markerAt.Y).RGBA()
		assert.Equal(t, uint32(0xFFFF), r, "orientation %d marker position", tc.orientation)
	}
}

func TestEncodeToJpegFlattensTransparency(t *testing.T) {

	// fully transparent image must come out white, not black
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))

	b, err := encodeToJpeg(src, 90)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	r, g, bl, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r, uint32(0xF000))
	assert.Greater(t, g, uint32(0xF000))
	assert.Greater(t, bl, uint32(0xF000))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, clamp(-5, 1, 100))
	assert.Equal(t, 100, clamp(120, 1, 100))
	assert.Equal(t, 75, clamp(75, 1, 100))
}
