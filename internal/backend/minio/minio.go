// Package minio uploads to MinIO and other S3-compatible object stores.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/seantiz/shipper/internal/backend"
)

// Name is the backend name.
const Name = "minio"

// objectAPI is the subset of *minio.Client the backend uses.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config locates the server and its credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

var _ backend.Backend = (*Backend)(nil)

// Backend writes objects to one MinIO endpoint.
type Backend struct {
	client objectAPI
	region string

	// ensured caches buckets known to exist.
	ensured sync.Map
}

// New builds a client for cfg.Endpoint. No request is made until first use.
func New(cfg Config) (*Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newWithClient(client, cfg.Region), nil
}

func newWithClient(client objectAPI, region string) *Backend {
	return &Backend{client: client, region: region}
}

func (b *Backend) Name() string { return Name }

// EnsureContainer creates the bucket unless it already exists.
func (b *Backend) EnsureContainer(ctx context.Context, bucket string) error {
	if _, ok := b.ensured.Load(bucket); ok {
		return nil
	}

	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: b.region})
		if err != nil && !alreadyOwned(err) {
			return fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	b.ensured.Store(bucket, struct{}{})
	return nil
}

func alreadyOwned(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
}

// Write puts a single object of exactly size bytes.
func (b *Backend) Write(ctx context.Context, bucket, key string, r io.Reader, size int64, opts backend.WriteOptions) error {
	ctx, cancel := backend.WithMaxDuration(ctx, opts)
	defer cancel()

	info, err := b.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("put object %s: %w", key, errors.Join(ctx.Err(), err))
		}
		return fmt.Errorf("put object %s: %w", key, err)
	}
	if info.Size != size {
		return fmt.Errorf("put object %s: stored %d of %d bytes", key, info.Size, size)
	}
	return nil
}
