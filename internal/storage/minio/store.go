// Package minio implements the object store over any S3-compatible backend.
// Keys are opaque; raw list pages land under the spider-results bucket.
package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
)

// Store wraps one minio client. Safe for concurrent use.
type Store struct {
	client *minio.Client
	logger arbor.ILogger
}

// NewStore builds the object-store client. The connection is lazy; the first
// EnsureBucket call verifies reachability.
func NewStore(cfg common.MinioConfig, logger arbor.ILogger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindConfig, "minio client", err)
	}
	return &Store{client: client, logger: logger}, nil
}

// EnsureBucket creates the bucket when it doesn't exist yet. Idempotent.
func (s *Store) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return dserrors.Wrap(dserrors.KindTransport, "check bucket "+bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return dserrors.Wrap(dserrors.KindTransport, "make bucket "+bucket, err)
	}
	s.logger.Info().Str("bucket", bucket).Msg("Created object-store bucket")
	return nil
}

// PutBytes stores a blob under the given key.
func (s *Store) PutBytes(ctx context.Context, bucket, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	return dserrors.Wrap(dserrors.KindTransport, "put object "+key, err)
}

// GetBytes fetches a blob by key.
func (s *Store) GetBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindTransport, "get object "+key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindTransport, "read object "+key, err)
	}
	return data, nil
}
