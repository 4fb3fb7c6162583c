package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options holds the connection settings shared by the S3-compatible backends
type Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	UseSSL          bool
}

func (o Options) validate() error {
	if o.Bucket == "" {
		return fmt.Errorf("artifact: bucket is required")
	}
	if o.PublicURL == "" {
		return fmt.Errorf("artifact: public url is required")
	}
	return nil
}

// MinioStore writes objects through the minio client (R2, MinIO, S3)
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore creates a minio-backed store
func NewMinioStore(opts Options) (*MinioStore, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("artifact: endpoint is required for the minio driver")
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}

	return &MinioStore{client: client, bucket: opts.Bucket, publicURL: opts.PublicURL}, nil
}

// Put uploads data and returns its public URL
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return PublicURL(s.publicURL, key), nil
}

var _ Store = (*MinioStore)(nil)
