// Package storage moves finished report files to and from S3-compatible
// object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

const spreadsheetContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// S3API is the part of the S3 client the store calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store moves report files between local disk and S3.
type S3Store struct {
	client S3API
	logger logger.Logger
}

// NewS3Store builds a client from awsCfg. EndpointURL and UsePathStyle let
// the store talk to LocalStack or MinIO.
func NewS3Store(awsCfg aws.Config, cfg config.StorageConfig, log logger.Logger) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StoreWithClient(client, log)
}

// NewS3StoreWithClient wraps an existing client, typically a mock in tests.
func NewS3StoreWithClient(client S3API, log logger.Logger) *S3Store {
	return &S3Store{client: client, logger: log}
}

// Put uploads the file at localPath to bucket/key. An existing object under
// the same key is overwritten.
func (s *S3Store) Put(ctx context.Context, localPath, bucket, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s for upload: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(spreadsheetContentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}

	s.logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("bytes", info.Size()).
		Msg("Uploaded report")
	return nil
}

// Get downloads bucket/key into localPath, creating parent directories.
func (s *S3Store) Get(ctx context.Context, bucket, key, localPath string) (err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", localPath, err)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", localPath, cerr)
		}
	}()

	n, err := io.Copy(f, out.Body)
	if err != nil {
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}

	s.logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Str("path", localPath).
		Int("bytes", int(n)).
		Msg("Downloaded report")
	return nil
}
