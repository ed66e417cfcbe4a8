// Package s3storage archives found-item photos and their previews in MinIO/S3.
package s3storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/vanguard/internal/config"
)

// ErrObjectNotFound is returned when a key does not exist in its bucket.
var ErrObjectNotFound = errors.New("object not found")

// Storage wraps MinIO/S3 interactions for original photos and previews.
type Storage struct {
	client        *minio.Client
	rawBucket     string
	previewBucket string
	region        string
}

// Object is an open archived photo. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:        client,
		rawBucket:     cfg.RawBucket,
		previewBucket: cfg.PreviewBucket,
		region:        cfg.S3Region,
	}, nil
}

// OriginalKey is where the uploaded photo of a found item is stored.
func OriginalKey(itemID string) string { return "found/" + itemID + "/original" }

// PreviewKey is where the scaled JPEG preview of a found item is stored.
func PreviewKey(itemID string) string { return "found/" + itemID + "/preview.jpg" }

// EnsureBuckets makes sure the raw/preview buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.previewBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// UploadOriginal stores the photo of a persisted found item and returns its key.
func (s *Storage) UploadOriginal(ctx context.Context, itemID string, data []byte, contentType string) (string, error) {
	key := OriginalKey(itemID)
	opts := minio.PutObjectOptions{ContentType: contentType}
	_, err := s.client.PutObject(ctx, s.rawBucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return "", fmt.Errorf("upload original object: %w", err)
	}
	return key, nil
}

// UploadPreview stores a JPEG preview in the preview bucket.
func (s *Storage) UploadPreview(ctx context.Context, objectKey string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "image/jpeg"}
	_, err := s.client.PutObject(ctx, s.previewBucket, objectKey, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("upload preview object: %w", err)
	}
	return nil
}

// DownloadOriginal fetches the archived photo bytes.
func (s *Storage) DownloadOriginal(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get original object: %w", mapErr(err))
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read original object: %w", mapErr(err))
	}
	return buf, nil
}

// OpenOriginal returns a stream over the archived photo of itemID.
func (s *Storage) OpenOriginal(ctx context.Context, itemID string) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, OriginalKey(itemID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get original object: %w", mapErr(err))
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat original object: %w", mapErr(err))
	}
	return &Object{Body: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

// PresignPreviewURL returns a signed GET URL for the preview of itemID. It
// fails with ErrObjectNotFound until the worker has produced the preview.
func (s *Storage) PresignPreviewURL(ctx context.Context, itemID string, expiry time.Duration) (string, error) {
	key := PreviewKey(itemID)
	if _, err := s.client.StatObject(ctx, s.previewBucket, key, minio.StatObjectOptions{}); err != nil {
		return "", fmt.Errorf("stat preview object: %w", mapErr(err))
	}
	u, err := s.client.PresignedGetObject(ctx, s.previewBucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign preview object: %w", err)
	}
	return u.String(), nil
}

func mapErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
