// Package s3 uploads to Amazon S3.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/seantiz/shipper/internal/backend"
)

// Name is the backend name.
const Name = "s3"

// s3API is the subset of *s3.Client the backend uses.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the region and, for S3-compatible stores, the endpoint.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// AccessKey and SecretKey override the default credential chain when both are set.
	AccessKey string
	SecretKey string
}

var _ backend.Backend = (*Backend)(nil)

// Backend writes objects to S3 buckets.
type Backend struct {
	client s3API
	region string

	// ensured caches buckets known to exist.
	ensured sync.Map
}

// New loads the default AWS configuration for cfg.Region and builds a client.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return newWithClient(client, cfg.Region), nil
}

func newWithClient(client s3API, region string) *Backend {
	return &Backend{client: client, region: region}
}

func (b *Backend) Name() string { return Name }

// EnsureContainer creates the bucket if HeadBucket reports it missing.
func (b *Backend) EnsureContainer(ctx context.Context, bucket string) error {
	if _, ok := b.ensured.Load(bucket); ok {
		return nil
	}

	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		b.ensured.Store(bucket, struct{}{})
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket %s: %w", bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	if _, err := b.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if !errors.As(err, &owned) {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	b.ensured.Store(bucket, struct{}{})
	return nil
}

// Write puts a single object of exactly size bytes.
func (b *Backend) Write(ctx context.Context, bucket, key string, r io.Reader, size int64, opts backend.WriteOptions) error {
	ctx, cancel := backend.WithMaxDuration(ctx, opts)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("put object %s: %w", key, errors.Join(ctx.Err(), err))
		}
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
