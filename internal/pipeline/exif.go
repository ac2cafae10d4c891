package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tdeslauriers/portfolio/pkg/api"
)

// errNoExif means the container carries no exif block.
var errNoExif = errors.New("no exif block")

var (
	pngExifChunk  = "eXIf"
	pngEndChunk   = "IEND"
	webpExifChunk = "EXIF"
)

// exifBlock returns the bytes goexif should decode for the given container.
// Jpeg buffers are returned whole since goexif walks the app segments itself.
// Png and webp carry the tiff block in a dedicated chunk, which is returned as is.
func exifBlock(data []byte, format api.ImageFormat) ([]byte, error) {

	switch format {
	case api.FormatJpeg:
		return data, nil
	case api.FormatPng:
		return pngExif(data)
	case api.FormatWebp:
		return webpExif(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// pngExif walks the png chunk list looking for eXIf.
// Each chunk is a big endian length, a four byte type, the data and a crc.
func pngExif(data []byte) ([]byte, error) {

	if len(data) < len(pngSignature) {
		return nil, ErrUnsupportedFormat
	}

	pos := len(pngSignature)
	for pos+8 <= len(data) {

		length := int64(binary.BigEndian.Uint32(data[pos : pos+4]))
		kind := string(data[pos+4 : pos+8])
		start := int64(pos + 8)
		end := start + length

		if end+4 > int64(len(data)) {
			return nil, fmt.Errorf("png chunk %q overruns the buffer", kind)
		}

		switch kind {
		case pngExifChunk:
			return data[start:end], nil
		case pngEndChunk:
			return nil, errNoExif
		}

		pos = int(end + 4)
	}

	return nil, errNoExif
}

// webpExif walks the riff chunk list looking for EXIF.
// Each chunk is a four byte id, a little endian length and the data padded to an even size.
func webpExif(data []byte) ([]byte, error) {

	if len(data) < 12 {
		return nil, ErrUnsupportedFormat
	}

	pos := 12
	for pos+8 <= len(data) {

		kind := string(data[pos : pos+4])
		length := int64(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		start := int64(pos + 8)
		end := start + length

		if end > int64(len(data)) {
			return nil, fmt.Errorf("webp chunk %q overruns the buffer", kind)
		}

		if kind == webpExifChunk {
			return data[start:end], nil
		}

		pos = int(end + end&1)
	}

	return nil, errNoExif
}
