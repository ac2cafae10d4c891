package pipeline

import "errors"

var (
	// ErrUnsupportedFormat means the buffer does not start with a known image signature.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrDecode means the buffer passed the signature check but could not be decoded.
	ErrDecode = errors.New("failed to decode image")

	// ErrImageTooLarge means the decoded dimensions exceed the configured pixel ceiling.
	ErrImageTooLarge = errors.New("image dimensions exceed the pixel limit")

	// ErrEncode means a rendition could not be resized or re-encoded.
	ErrEncode = errors.New("failed to encode rendition")
)
