package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdeslauriers/portfolio/internal/metrics"
	"github.com/tdeslauriers/portfolio/internal/pipeline"
	"github.com/tdeslauriers/portfolio/internal/pipeline/pipelinetest"
	"github.com/tdeslauriers/portfolio/internal/storage"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// flakyStore fails every Put whose key matches failOn.
type flakyStore struct {
	storage.Store

	mu      sync.Mutex
	failOn  func(key string) bool
	deleted []string
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.failOn(key) {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, data, contentType)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	f.mu.Unlock()
	return f.Store.Delete(ctx, key)
}

func newLocal(t *testing.T) storage.Store {
	t.Helper()

	s, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return s
}

func newTestIngestor(s storage.Store) *ingestor {
	return NewIngestor(pipeline.NewProcessor(pipeline.DefaultConfig()), s, metrics.Noop(), quietLogger, Config{Workers: 3}).(*ingestor)
}

func storedDims(t *testing.T, s storage.Store, key string) image.Point {
	t.Helper()

	rc, info, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", info.ContentType)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)

	return image.Pt(cfg.Width, cfg.Height)
}

func TestIngestMixedBatch(t *testing.T) {

	s := newLocal(t)
	ing := newTestIngestor(s)

	files := []UploadedImage{
		{Filename: "shrine.jpg", Data: pipelinetest.Jpeg(2000, 1500)},
		{Filename: "corrupt.jpg", Data: []byte("this is not an image")},
		{Filename: "lantern.png", Data: pipelinetest.Png(200, 150)},
	}

	result, err := ing.Ingest(context.Background(), files, api.CategoryTravel)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Submitted)
	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)

	assert.Equal(t, "corrupt.jpg", result.Failed[0].Filename)
	assert.Equal(t, StageRejected, result.Failed[0].Stage)
	assert.ErrorIs(t, result.Failed[0].Err(), ErrNotAnImage)
	assert.Equal(t, []string{"corrupt.jpg"}, result.FailedFilenames())

	// submission order
	shrine, lantern := result.Succeeded[0], result.Succeeded[1]
	assert.Equal(t, "shrine", shrine.Title)
	assert.Equal(t, "lantern", lantern.Title)
	assert.NotEqual(t, shrine.Id, lantern.Id)

	assert.Equal(t, image.Pt(400, 300), storedDims(t, s, shrine.Thumbnail))
	assert.Equal(t, image.Pt(800, 600), storedDims(t, s, shrine.Src))
	assert.Equal(t, image.Pt(900, 675), storedDims(t, s, shrine.DetailSrc))
	assert.Equal(t, image.Pt(2000, 1500), storedDims(t, s, shrine.OriginalSrc))
	assert.Equal(t, image.Pt(200, 150), storedDims(t, s, lantern.Thumbnail))

	keys := KeysFor(api.CategoryTravel, shrine.Id)
	assert.Equal(t, keys.Display, shrine.Src)
	assert.Equal(t, "thumbnails/travel/travel_"+shrine.Id+".jpg", shrine.Thumbnail)

	assert.Equal(t, 2000, shrine.Width)
	assert.Equal(t, 1500, shrine.Height)
	assert.Equal(t, pipeline.UnknownSummary, shrine.Camera)
	assert.NotNil(t, shrine.Tags)
	assert.False(t, shrine.CreatedAt.IsZero())
}

func TestIngestExifRecord(t *testing.T) {

	s := newLocal(t)
	ing := newTestIngestor(s)

	data := pipelinetest.WithExif(pipelinetest.Jpeg(1200, 800), pipelinetest.Exif{
		Make:         "Canon",
		Model:        "Canon EOS R5",
		Orientation:  6,
		FocalLength:  [2]uint32{50, 1},
		FNumber:      [2]uint32{18, 10},
		ExposureTime: [2]uint32{1, 250},
		Iso:          400,
		DateTime:     "2024:04:02 10:30:00",
	})

	result, err := ing.Ingest(context.Background(), []UploadedImage{{Filename: "IMG_0001.JPG", Data: data}}, api.CategoryCosplay)
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 1)

	p := result.Succeeded[0]
	assert.Equal(t, "IMG_0001", p.Title)
	assert.Equal(t, "Canon EOS R5", p.Camera)
	assert.Equal(t, "50mm f/1.8 1/250s ISO 400", p.Settings)
	require.NotNil(t, p.CapturedAt)
	assert.Equal(t, 2024, p.CapturedAt.Year())

	// rotated 90 degrees: displayed dimensions are swapped
	assert.Equal(t, 800, p.Width)
	assert.Equal(t, 1200, p.Height)
	assert.Equal(t, image.Pt(267, 400), storedDims(t, s, p.Thumbnail))
}

func TestIngestBatchErrors(t *testing.T) {

	testCases := []struct {
		name     string
		files    []UploadedImage
		category api.Category
		err      error
	}{
		{
			name:     "empty batch",
			files:    nil,
			category: api.CategoryTravel,
			err:      ErrEmptyBatch,
		},
		{
			name:     "invalid category",
			files:    []UploadedImage{{Filename: "a.jpg", Data: pipelinetest.Jpeg(10, 10)}},
			category: api.Category("landscape"),
			err:      ErrInvalidCategory,
		},
		{
			name: "all files invalid",
			files: []UploadedImage{
				{Filename: "notes.txt", Data: []byte("hello")},
				{Filename: "empty.jpg", Data: []byte{}},
				{Filename: "truncated.jpg", Data: pipelinetest.Jpeg(50, 50)[:40]},
			},
			category: api.CategoryTravel,
			err:      ErrNoImagesProcessed,
		},
	}

	ing := newTestIngestor(newLocal(t))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ing.Ingest(context.Background(), tc.files, tc.category)
			assert.ErrorIs(t, err, tc.err)

			if errors.Is(err, ErrNoImagesProcessed) {
				require.NotNil(t, result)
				assert.Empty(t, result.Succeeded)
				assert.Len(t, result.Failed, len(tc.files))
				return
			}
			assert.Nil(t, result)
		})
	}

	// batch level input errors share a parent
	assert.ErrorIs(t, ErrEmptyBatch, ErrValidation)
	assert.ErrorIs(t, ErrInvalidCategory, ErrValidation)
}

func TestIngestFileTooLarge(t *testing.T) {

	ing := NewIngestor(pipeline.NewProcessor(pipeline.DefaultConfig()), newLocal(t), nil, quietLogger, Config{MaxFileBytes: 4096})

	result, err := ing.Ingest(context.Background(), []UploadedImage{
		{Filename: "big.jpg", Data: pipelinetest.Jpeg(400, 400)},
		{Filename: "tiny.jpg", Data: pipelinetest.Jpeg(4, 4)},
	}, api.CategoryTravel)
	require.NoError(t, err)

	require.Len(t, result.Failed, 1)
	assert.Equal(t, "big.jpg", result.Failed[0].Filename)
	assert.ErrorIs(t, result.Failed[0].Err(), ErrFileTooLarge)
	assert.Len(t, result.Succeeded, 1)
}

func TestIngestStorageFailure(t *testing.T) {

	t.Run("every valid file fails to write", func(t *testing.T) {

		fs := &flakyStore{Store: newLocal(t), failOn: func(key string) bool { return strings.HasPrefix(key, "detail/") }}
		ing := newTestIngestor(fs)

		result, err := ing.Ingest(context.Background(), []UploadedImage{
			{Filename: "a.jpg", Data: pipelinetest.Jpeg(100, 100)},
			{Filename: "junk.bin", Data: []byte("junk")},
		}, api.CategoryTravel)
		assert.ErrorIs(t, err, ErrStorageWrite)
		require.NotNil(t, result)
		assert.Empty(t, result.Succeeded)
		assert.Equal(t, []string{"a.jpg", "junk.bin"}, result.FailedFilenames())

		// thumbnail and display were written before detail failed, then removed
		require.Len(t, fs.deleted, 2)
		for _, key := range fs.deleted {
			_, err := fs.Stat(context.Background(), key)
			assert.ErrorIs(t, err, storage.ErrNotFound)
		}
	})

	t.Run("one file fails to write", func(t *testing.T) {

		local := newLocal(t)
		var calls int
		var mu sync.Mutex
		fs := &flakyStore{Store: local, failOn: func(key string) bool {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return calls == 1
		}}
		ing := NewIngestor(pipeline.NewProcessor(pipeline.DefaultConfig()), fs, nil, quietLogger, Config{Workers: 1})

		result, err := ing.Ingest(context.Background(), []UploadedImage{
			{Filename: "first.jpg", Data: pipelinetest.Jpeg(100, 100)},
			{Filename: "second.jpg", Data: pipelinetest.Jpeg(100, 100)},
		}, api.CategoryTravel)
		require.NoError(t, err)

		require.Len(t, result.Failed, 1)
		assert.Equal(t, "first.jpg", result.Failed[0].Filename)
		assert.Equal(t, StageFailed, result.Failed[0].Stage)
		assert.ErrorIs(t, result.Failed[0].Err(), ErrStorageWrite)
		require.Len(t, result.Succeeded, 1)
		assert.Equal(t, "second", result.Succeeded[0].Title)
	})
}

func TestIngestIdCollision(t *testing.T) {

	ing := newTestIngestor(newLocal(t))

	ids := []string{"fixed", "fixed", "fixed", "other"}
	var mu sync.Mutex
	ing.newId = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	result, err := ing.Ingest(context.Background(), []UploadedImage{
		{Filename: "a.jpg", Data: pipelinetest.Jpeg(20, 20)},
		{Filename: "b.jpg", Data: pipelinetest.Jpeg(20, 20)},
	}, api.CategoryTravel)
	require.NoError(t, err)
	require.Len(t, result.Succeeded, 2)

	got := []string{result.Succeeded[0].Id, result.Succeeded[1].Id}
	assert.ElementsMatch(t, []string{"fixed", "other"}, got)
}

func TestIngestCancelled(t *testing.T) {

	ing := newTestIngestor(newLocal(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := ing.Ingest(ctx, []UploadedImage{{Filename: "a.jpg", Data: pipelinetest.Jpeg(20, 20)}}, api.CategoryTravel)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTitleFromFilename(t *testing.T) {

	testCases := []struct {
		filename string
		expected string
	}{
		{"sunset.jpg", "sunset"},
		{"IMG_0001.JPG", "IMG_0001"},
		{"C:\\Users\\me\\Pictures\\harbor.png", "harbor"},
		{"nested/dir/gate.webp", "gate"},
		{"archive.tar.jpg", "archive.tar"},
		{"", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.filename, func(t *testing.T) {
			assert.Equal(t, tc.expected, titleFromFilename(tc.filename))
		})
	}
}
