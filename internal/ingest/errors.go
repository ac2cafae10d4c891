package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the parent of every batch level input error.
	ErrValidation = errors.New("invalid upload")

	ErrEmptyBatch      = fmt.Errorf("%w: no files submitted", ErrValidation)
	ErrInvalidCategory = fmt.Errorf("%w: invalid category", ErrValidation)

	// ErrNoImagesProcessed is returned when a batch produced zero photos.
	ErrNoImagesProcessed = errors.New("no images were processed")

	// ErrStorageWrite marks a file whose renditions could not be written. When it is the
	// reason every valid file failed, the whole batch returns it.
	ErrStorageWrite = errors.New("failed to write renditions to storage")

	// ErrFileTooLarge marks a file over the per-file byte ceiling.
	ErrFileTooLarge = errors.New("file exceeds the size limit")

	// ErrNotAnImage marks a file whose leading bytes are not a supported image signature.
	ErrNotAnImage = errors.New("not a supported image (jpeg, png or webp)")
)
