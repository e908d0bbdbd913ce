// Package storage archives restored images to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archive keeps a copy of each restored image. Archival is best-effort from
// the pipeline's point of view; a failed save never fails the job.
type Archive interface {
	SaveRestored(ctx context.Context, telegramID int64, messageID int, image []byte) (string, error)
}

// MinioArchive stores restored images in a MinIO (or any S3-compatible)
// bucket under restored/<account>/<message>-<uuid>.png.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to the object store and ensures the bucket exists.
func NewMinioArchive(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("object store endpoint required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("object store bucket required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// SaveRestored uploads one restored image and returns its object key.
func (a *MinioArchive) SaveRestored(ctx context.Context, telegramID int64, messageID int, image []byte) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image")
	}
	key := fmt.Sprintf("restored/%d/%d-%s.png", telegramID, messageID, uuid.NewString())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(image), int64(len(image)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("archive image: %w", err)
	}
	return key, nil
}
