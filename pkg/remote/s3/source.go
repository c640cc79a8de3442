// Package s3 implements a ContentSource backed by S3-compatible object
// storage. Deployments that publish content packs straight to a bucket
// (or a MinIO mirror) use this source instead of the REST API.
//
// Object keys mirror content keys: "text/john/3/kjv" is stored under
// "<prefix>text/john/3/kjv", so a bucket listing reads like the catalog.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/voxbiblia/ark/internal/retry"
	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
)

// Source reads scripture payloads from an S3 bucket.
//
// Safe for concurrent use.
type Source struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	maxRetries int
	backoff    retry.Policy
}

// Config contains configuration for the S3 content source.
type Config struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "packs/" results in keys like "packs/text/john/3/kjv".
	KeyPrefix string

	// MaxRetries is the number of retry attempts for transient errors
	// (default: 3). Retries here are short and in-process; durable retry
	// scheduling belongs to the download manager.
	MaxRetries int

	// InitialBackoff is the delay before the first retry (default: 100ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff (default: 2s).
	MaxBackoff time.Duration
}

// NewClient creates an S3 client from configuration parameters. This is a
// helper for building clients from YAML configuration, including
// S3-compatible endpoints like MinIO (set forcePathStyle for those).
func NewClient(
	ctx context.Context,
	endpoint,
	region,
	accessKeyID,
	secretAccessKey string,
	forcePathStyle bool,
) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"", // session token (empty for static credentials)
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = forcePathStyle
	})

	return client, nil
}

// New creates an S3 content source and verifies bucket access. The bucket
// must already exist.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff == 0 {
		initialBackoff = 100 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 2 * time.Second
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Source{
		client:     cfg.Client,
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		maxRetries: maxRetries,
		backoff:    retry.New(initialBackoff, maxBackoff, maxRetries),
	}, nil
}

// objectKey returns the full S3 object key for a content key.
func (s *Source) objectKey(key content.Key) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + key.String()
	}
	return key.String()
}

var _ remote.ContentSource = (*Source)(nil)
