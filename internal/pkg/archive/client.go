package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/DocFox/internal/pkg/config"
)

// Store receives archive objects.
type Store interface {
	Put(ctx context.Context, key string, body []byte) error
}

// S3Store writes archive objects to one bucket of an S3-compatible service.
type S3Store struct {
	s3Client *s3.Client
	cfg      config.Archive
}

// NewS3Store connects to the configured bucket. With createMissing the
// bucket is created when it does not exist yet (dev only).
func NewS3Store(ctx context.Context, cfg config.Archive, createMissing bool) (*S3Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("job archive is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and B2 only speak path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	store := &S3Store{s3Client: s3Client, cfg: cfg}
	if err := store.checkBucket(ctx, createMissing); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Using bucket %s", cfg.Bucket)
	return store, nil
}

func (s *S3Store) checkBucket(ctx context.Context, createMissing bool) error {
	_, err := s.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.cfg.Bucket),
	})
	if err == nil {
		return nil
	}
	if !createMissing {
		return fmt.Errorf("bucket %s not accessible: %w", s.cfg.Bucket, err)
	}

	log.Warnf("[Archive] Bucket %s not found, attempting to create it", s.cfg.Bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(s.cfg.Bucket)}
	// us-east-1 and custom endpoints reject an explicit location constraint.
	if s.cfg.Endpoint == "" && s.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	if _, err := s.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.cfg.Bucket, err)
	}
	log.Infof("[Archive] Created bucket %s", s.cfg.Bucket)
	return nil
}

// Put uploads body as a JSON-lines object.
func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/x-ndjson"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"upload-source": "docfox-archive",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	return nil
}
