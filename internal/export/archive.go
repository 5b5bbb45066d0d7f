package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchiver stores a timestamped copy of every export in an S3-compatible
// bucket, keyed by document.
type MinioArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinioArchiver connects to the object store and ensures the bucket exists.
func NewMinioArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioArchiver{client: client, bucket: bucket}, nil
}

// Store uploads one export result under exports/<documentID>/<timestamp>-<filename>.
func (a *MinioArchiver) Store(ctx context.Context, documentID string, res *Result) error {
	objectName := fmt.Sprintf("exports/%s/%s-%s",
		documentID,
		time.Now().UTC().Format("20060102T150405Z"),
		res.Filename,
	)
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(res.Data), int64(len(res.Data)),
		minio.PutObjectOptions{ContentType: res.MimeType},
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", objectName, err)
	}
	return nil
}
