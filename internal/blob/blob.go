// Package blob implements the dataset blob boundary on an S3-compatible
// object store.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Fetcher retrieves dataset blobs. The job controller depends on this
// interface so tests can feed CSV bytes without an object store.
type Fetcher interface {
	// Fetch opens the object at bucket/key for reading. A missing bucket or
	// key is an error, not an empty stream. The caller closes the reader.
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Config holds object store client configuration.
type Config struct {
	// Endpoint is host:port of the object store, e.g. "localhost:9000" or
	// "s3.amazonaws.com".
	Endpoint string

	AccessKey string
	SecretKey string

	// UseSSL selects https transport to the endpoint.
	UseSSL bool
}

// Store is an object store backed Fetcher.
type Store struct {
	client *minio.Client
}

// NewStore constructs an object store client. The connection is lazy; a bad
// endpoint surfaces on the first Fetch.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob: Endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: create client: %w", err)
	}
	return &Store{client: client}, nil
}

// Fetch implements Fetcher. GetObject defers errors to the first read, so a
// Stat call up front turns a missing object into an immediate failure.
func (s *Store) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: get %s/%s: %w", bucket, key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("blob: stat %s/%s: %w", bucket, key, err)
	}
	if info.Size == 0 {
		obj.Close()
		return nil, fmt.Errorf("blob: %s/%s is empty", bucket, key)
	}
	return obj, nil
}
