package fallback

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/complyscan/scanstore/internal/server/config"
)

// Seams for tests.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3PutAPI {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type s3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver stores drained spool batches somewhere durable for later review.
type Archiver interface {
	Archive(ctx context.Context, data []byte) error
}

// S3Archiver uploads drained batches to an S3-compatible bucket under
// reconciled/<timestamp>.jsonl.
type S3Archiver struct {
	bucket       string
	region       string
	rootUser     string
	rootPassword string
	baseEndpoint string
}

func NewS3Archiver(cfg *config.Config) *S3Archiver {
	return &S3Archiver{
		bucket:       cfg.ArchiveBucket,
		region:       cfg.ArchiveRegion,
		rootUser:     cfg.S3RootUser,
		rootPassword: cfg.S3RootPassword,
		baseEndpoint: cfg.S3BaseEndpoint,
	}
}

func (a *S3Archiver) Archive(ctx context.Context, data []byte) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(a.region),
	}
	if a.rootUser != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(a.rootUser, a.rootPassword, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return err
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if a.baseEndpoint != "" {
			o.BaseEndpoint = aws.String(a.baseEndpoint)
		}
	})

	key := fmt.Sprintf("reconciled/%s.jsonl", time.Now().UTC().Format("20060102T150405.000000000"))
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}
	return nil
}
