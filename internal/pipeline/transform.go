package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	redraw "golang.org/x/image/draw"
)

// fitInside returns the dimensions of a w x h image scaled to fit inside a box x box square,
// preserving aspect ratio. It never scales up: a source already inside the box keeps its size.
// A box <= 0 means no bounding box.
func fitInside(w, h, box int) (int, int) {

	if box <= 0 || w <= 0 || h <= 0 {
		return w, h
	}

	if w <= box && h <= box {
		return w, h
	}

	if w >= h {
		scaled := int(math.Round(float64(h) * float64(box) / float64(w)))
		return box, max(scaled, 1)
	}

	scaled := int(math.Round(float64(w) * float64(box) / float64(h)))
	return max(scaled, 1), box
}

// resizeToFit scales the image to fit inside the box, returning the source untouched
// when no resize is needed.
func resizeToFit(src image.Image, box int) image.Image {

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	dstWidth, dstHeight := fitInside(w, h, box)
	if dstWidth == w && dstHeight == h {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	redraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, redraw.Over, nil)

	return dst
}

// orient applies an exif orientation (1-8) so the image displays upright.
// Unknown or normal orientations return the source.
func orient(src image.Image, orientation int) image.Image {

	if orientation < 2 || orientation > 8 {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	// orientations 5-8 swap the axes
	dstW, dstH := w, h
	if orientation >= 5 {
		dstW, dstH = h, w
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch orientation {
			case 2: // mirror horizontal
				dx, dy = w-1-x, y
			case 3: // rotate 180
				dx, dy = w-1-x, h-1-y
			case 4: // mirror vertical
				dx, dy = x, h-1-y
			case 5: // transpose
				dx, dy = y, x
			case 6: // rotate 90 clockwise
				dx, dy = h-1-y, x
			case 7: // transverse
				dx, dy = h-1-y, w-1-x
			case 8: // rotate 270 clockwise
				dx, dy = y, w-1-x
			}
			dst.Set(dx, dy, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	return dst
}

// encodeToJpeg encodes the image as a jpeg at the given quality, flattening any
// transparency onto white first.
func encodeToJpeg(src image.Image, quality int) ([]byte, error) {

	if hasAlphaChannel(src) {
		src = flattenOnWhite(src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: clamp(quality, 1, 100)}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return buf.Bytes(), nil
}

// hasAlphaChannel reports whether the image may carry transparent pixels.
func hasAlphaChannel(img image.Image) bool {

	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	default:
		return false
	}
}

// flattenOnWhite composites the image over a white canvas.
func flattenOnWhite(src image.Image) image.Image {

	bounds := src.Bounds()

	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: image.White}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)

	return dst
}

// clamp ensures a value is within the min and max bounds.
func clamp(v, lo, hi int) int {

	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
