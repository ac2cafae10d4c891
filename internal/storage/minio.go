package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// MinioConfig is the connection config for an s3 compatible object store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NewMinioStore connects to the object store and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (Store, error) {

	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	store := &minioStore{
		client: client,
		bucket: cfg.Bucket,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageStorage)).
			With(slog.String(util.ComponentKey, util.ComponentMinioStore)),
	}

	if err := store.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}

	return store, nil
}

var _ Store = (*minioStore)(nil)

type minioStore struct {
	client *minio.Client
	bucket string

	logger *slog.Logger
}

func (s *minioStore) ensureBucket(ctx context.Context, region string) error {

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %v", s.bucket, err)
	}

	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %v", s.bucket, err)
	}

	s.logger.Info(fmt.Sprintf("created bucket %s", s.bucket))

	return nil
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {

	if err := ValidateKey(key); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: util.ImageCacheControl,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %v", key, err)
	}

	return nil
}

func (s *minioStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {

	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get %s: %v", key, err)
	}

	// GetObject is lazy: the request is only made on the first read or stat
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to stat %s: %v", key, err)
	}

	return obj, toInfo(stat), nil
}

func (s *minioStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {

	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %v", key, err)
	}

	return toInfo(stat), nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {

	if err := ValidateKey(key); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %v", key, err)
	}

	return nil
}

func (s *minioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket %s with prefix %q: %v", s.bucket, prefix, obj.Err)
		}
		objects = append(objects, *toInfo(obj))
	}

	return objects, nil
}

func (s *minioStore) Backend() string { return "minio" }

func toInfo(o minio.ObjectInfo) *ObjectInfo {

	ct := o.ContentType
	if ct == "" {
		ct, _ = ContentTypeFor(o.Key)
	}

	return &ObjectInfo{
		Key:         o.Key,
		Size:        o.Size,
		ModTime:     o.LastModified,
		ContentType: ct,
	}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
