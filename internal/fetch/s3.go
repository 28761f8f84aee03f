package fetch

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// openS3 reads s3://bucket/key archives from the configured endpoint.
func (f *fetcher) openS3(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.s3.Endpoint == "" {
		return nil, errors.New("s3 endpoint is not configured")
	}
	creds := credentials.NewEnvAWS()
	if f.s3.AccessKey != "" {
		creds = credentials.NewStaticV4(f.s3.AccessKey, f.s3.SecretKey, "")
	}
	client, err := minio.New(f.s3.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: f.s3.Secure,
		Region: f.s3.Region,
	})
	if err != nil {
		return nil, err
	}
	obj, err := client.GetObject(ctx, bucket, strings.TrimPrefix(key, "/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; surface a missing object here rather than mid-copy.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}
