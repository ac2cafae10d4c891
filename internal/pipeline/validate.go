package pipeline

import (
	"bytes"

	"github.com/tdeslauriers/portfolio/pkg/api"
)

var (
	jpegSignature = []byte{0xFF, 0xD8}
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	riffSignature = []byte("RIFF")
	webpSignature = []byte("WEBP")
)

// DetectFormat identifies the image encoding from the leading bytes of the buffer.
// Filenames and declared content types are never consulted.
func DetectFormat(b []byte) (api.ImageFormat, bool) {

	switch {
	case len(b) >= len(pngSignature) && bytes.Equal(b[:len(pngSignature)], pngSignature):
		return api.FormatPng, true
	case len(b) >= 12 && bytes.Equal(b[0:4], riffSignature) && bytes.Equal(b[8:12], webpSignature):
		return api.FormatWebp, true
	case len(b) >= len(jpegSignature) && bytes.Equal(b[:len(jpegSignature)], jpegSignature):
		return api.FormatJpeg, true
	default:
		return "", false
	}
}

// IsValidImage is a fast pre-filter: it reports whether the buffer carries a jpeg,
// png or webp signature. A buffer that passes may still fail to decode.
func IsValidImage(b []byte) bool {
	_, ok := DetectFormat(b)
	return ok
}
