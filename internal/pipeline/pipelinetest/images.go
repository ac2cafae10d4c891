// Package pipelinetest builds synthetic image buffers for tests.
package pipelinetest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sort"
)

// a 1x1 lossless webp
const webpBase64 = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

// Jpeg returns a w x h jpeg with a horizontal gradient.
func Jpeg(w, h int) []byte {

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		panic(err)
	}

	return buf.Bytes()
}

// Png returns a w x h png whose left half is transparent.
func Png(w, h int) []byte {

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if x < w/2 {
				a = 0
			}
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: a})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}

	return buf.Bytes()
}

// Webp returns a 1x1 webp.
func Webp() []byte {
	b, err := base64.StdEncoding.DecodeString(webpBase64)
	if err != nil {
		panic(err)
	}
	return b
}

// Exif describes the capture fields written by WithExif. Zero values are omitted.
type Exif struct {
	Make         string
	Model        string
	LensModel    string
	Orientation  uint16
	FocalLength  [2]uint32 // numerator, denominator
	FNumber      [2]uint32
	ExposureTime [2]uint32
	Iso          uint16
	Flash        *uint16
	WhiteBalance *uint16
	DateTime     string // "2006:01:02 15:04:05"
}

// WithExif splices an APP1 exif segment carrying e right after the jpeg SOI marker.
func WithExif(jpegData []byte, e Exif) []byte {

	tiff := buildTiff(e)

	var app1 bytes.Buffer
	app1.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&app1, binary.BigEndian, uint16(2+6+len(tiff)))
	app1.WriteString("Exif\x00\x00")
	app1.Write(tiff)

	out := make([]byte, 0, len(jpegData)+app1.Len())
	out = append(out, jpegData[:2]...)
	out = append(out, app1.Bytes()...)
	out = append(out, jpegData[2:]...)

	return out
}

// PngWithExif inserts an eXIf chunk carrying e right after the png IHDR chunk.
func PngWithExif(pngData []byte, e Exif) []byte {

	// signature, then IHDR: length, type, 13 bytes of data, crc
	const afterIhdr = 8 + 4 + 4 + 13 + 4

	out := make([]byte, 0, len(pngData)+64)
	out = append(out, pngData[:afterIhdr]...)
	out = append(out, pngChunk("eXIf", buildTiff(e))...)
	out = append(out, pngData[afterIhdr:]...)

	return out
}

// PadPng grows a png to at least size bytes with a private ancillary chunk
// placed before IEND. Decoders skip the chunk, so the image is unchanged.
func PadPng(pngData []byte, size int64) []byte {

	// IEND is always the last twelve bytes
	end := len(pngData) - 12

	pad := size - int64(len(pngData)) - 12
	if pad < 0 {
		pad = 0
	}

	out := make([]byte, 0, int64(len(pngData))+12+pad)
	out = append(out, pngData[:end]...)
	out = append(out, pngChunk("prVt", make([]byte, pad))...)
	out = append(out, pngData[end:]...)

	return out
}

func pngChunk(kind string, data []byte) []byte {

	var b bytes.Buffer
	_ = binary.Write(&b, binary.BigEndian, uint32(len(data)))
	b.WriteString(kind)
	b.Write(data)
	_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(b.Bytes()[4:]))

	return b.Bytes()
}

// WebpWithExif returns the 1x1 webp in an extended container with an EXIF chunk carrying e.
func WebpWithExif(e Exif) []byte {

	// the VP8L chunk of the simple file, id through padding
	lossless := Webp()[12:]

	// extended header: exif flag, reserved bytes, then a 1x1 canvas stored as size minus one
	vp8x := make([]byte, 10)
	vp8x[0] = 1 << 3

	var body bytes.Buffer
	body.WriteString("WEBP")
	body.Write(riffChunk("VP8X", vp8x))
	body.Write(lossless)
	body.Write(riffChunk("EXIF", buildTiff(e)))

	var out bytes.Buffer
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())

	return out.Bytes()
}

func riffChunk(id string, data []byte) []byte {

	var b bytes.Buffer
	b.WriteString(id)
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	if len(data)%2 == 1 {
		b.WriteByte(0)
	}

	return b.Bytes()
}

const (
	typeAscii    uint16 = 2
	typeShort    uint16 = 3
	typeLong     uint16 = 4
	typeRational uint16 = 5
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: typeAscii, count: uint32(len(b)), data: b}
}

func short(tag uint16, v uint16) entry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return entry{tag: tag, typ: typeShort, count: 1, data: b}
}

func long(tag uint16, v uint32) entry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return entry{tag: tag, typ: typeLong, count: 1, data: b}
}

func rational(tag uint16, r [2]uint32) entry {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], r[0])
	binary.LittleEndian.PutUint32(b[4:8], r[1])
	return entry{tag: tag, typ: typeRational, count: 1, data: b}
}

// buildTiff lays out a little endian tiff block: header, ifd0, then the exif sub-ifd.
func buildTiff(e Exif) []byte {

	var ifd0 []entry
	if e.Make != "" {
		ifd0 = append(ifd0, ascii(0x010F, e.Make))
	}
	if e.Model != "" {
		ifd0 = append(ifd0, ascii(0x0110, e.Model))
	}
	if e.Orientation != 0 {
		ifd0 = append(ifd0, short(0x0112, e.Orientation))
	}

	var sub []entry
	if e.ExposureTime[1] != 0 {
		sub = append(sub, rational(0x829A, e.ExposureTime))
	}
	if e.FNumber[1] != 0 {
		sub = append(sub, rational(0x829D, e.FNumber))
	}
	if e.Iso != 0 {
		sub = append(sub, short(0x8827, e.Iso))
	}
	if e.DateTime != "" {
		sub = append(sub, ascii(0x9003, e.DateTime))
	}
	if e.Flash != nil {
		sub = append(sub, short(0x9209, *e.Flash))
	}
	if e.FocalLength[1] != 0 {
		sub = append(sub, rational(0x920A, e.FocalLength))
	}
	if e.WhiteBalance != nil {
		sub = append(sub, short(0xA403, *e.WhiteBalance))
	}
	if e.LensModel != "" {
		sub = append(sub, ascii(0xA434, e.LensModel))
	}

	const headerLen = 8

	// size ifd0 with a placeholder pointer, then point it at the sub-ifd that follows
	ifd0 = append(ifd0, long(0x8769, 0))
	first := layoutIfd(ifd0, headerLen)
	subOffset := uint32(headerLen + len(first))
	ifd0[len(ifd0)-1] = long(0x8769, subOffset)
	first = layoutIfd(ifd0, headerLen)

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, binary.LittleEndian, uint16(42))
	_ = binary.Write(&out, binary.LittleEndian, uint32(headerLen))
	out.Write(first)
	out.Write(layoutIfd(sub, subOffset))

	return out.Bytes()
}

// layoutIfd encodes one ifd starting at offset, with its out-of-line values appended after it.
func layoutIfd(entries []entry, offset uint32) []byte {

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	dataStart := offset + 2 + uint32(12*len(entries)) + 4

	var dir, data bytes.Buffer
	_ = binary.Write(&dir, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&dir, binary.LittleEndian, e.tag)
		_ = binary.Write(&dir, binary.LittleEndian, e.typ)
		_ = binary.Write(&dir, binary.LittleEndian, e.count)

		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			dir.Write(v)
			continue
		}

		_ = binary.Write(&dir, binary.LittleEndian, dataStart+uint32(data.Len()))
		data.Write(e.data)
		if data.Len()%2 == 1 {
			data.WriteByte(0)
		}
	}

	// no next ifd
	_ = binary.Write(&dir, binary.LittleEndian, uint32(0))

	return append(dir.Bytes(), data.Bytes()...)
}
