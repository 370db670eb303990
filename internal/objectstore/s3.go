package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// S3 stores objects in an S3 compatible bucket.
type S3 struct {
	bucket     string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	threshold  int64
	logger     *slog.Logger
}

// NewS3 builds the client from static credentials. A custom endpoint (for
// Wasabi or a gateway) switches to path-style addressing.
func NewS3(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*S3, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "s3", "bucket is required", nil)
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "s3", "load aws config", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			if !strings.Contains(endpoint, "://") {
				scheme := "https://"
				if !cfg.UseSSL {
					scheme = "http://"
				}
				endpoint = scheme + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	partSize := int64(cfg.PartSizeMB) * mib
	if partSize < manager.MinUploadPartSize {
		partSize = manager.DefaultUploadPartSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = manager.DefaultUploadConcurrency
	}
	threshold := int64(cfg.MultipartThresholdMB) * mib
	if threshold <= 0 {
		threshold = 8 * mib
	}
	return &S3{
		bucket: bucket,
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
		}),
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = partSize
			d.Concurrency = concurrency
		}),
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "objectstore-s3"),
	}, nil
}

// Backend implements Store.
func (s *S3) Backend() string { return "s3" }

// Upload implements Store. Bodies under the multipart threshold go out as a
// single PutObject.
func (s *S3) Upload(ctx context.Context, key string, src io.Reader, size int64) error {
	if size >= 0 && size < s.threshold {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          src,
			ContentLength: aws.Int64(size),
		})
		return transient("s3", "put", key, err)
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   src,
	})
	return transient("s3", "upload", key, err)
}

// Download implements Store.
func (s *S3) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && isS3NotFound(err) {
		return n, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return n, transient("s3", "download", key, err)
}

// Delete implements Store.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && isS3NotFound(err) {
		return nil
	}
	return transient("s3", "delete", key, err)
}

// Exists implements Store.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, transient("s3", "head", key, err)
}

// Ping checks bucket access.
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return transient("s3", "head bucket", s.bucket, err)
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
