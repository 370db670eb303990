package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/services"
)

// Minio stores objects through the MinIO client.
type Minio struct {
	bucket   string
	client   *minio.Client
	partSize uint64
	threads  uint
	logger   *slog.Logger
}

// NewMinio builds a client for cfg.Endpoint.
func NewMinio(cfg config.Storage, logger *slog.Logger) (*Minio, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "minio", "endpoint is required", nil)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "minio", "bucket is required", nil)
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "minio", "create client", err)
	}
	partSize := uint64(cfg.PartSizeMB) * mib
	if partSize < 5*mib {
		partSize = 16 * mib
	}
	threads := uint(max(cfg.Concurrency, 1))
	return &Minio{
		bucket:   bucket,
		client:   client,
		partSize: partSize,
		threads:  threads,
		logger:   logging.NewComponentLogger(logger, "objectstore-minio"),
	}, nil
}

// Backend implements Store.
func (m *Minio) Backend() string { return "minio" }

// Upload implements Store.
func (m *Minio) Upload(ctx context.Context, key string, src io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, src, size, minio.PutObjectOptions{
		PartSize:   m.partSize,
		NumThreads: m.threads,
	})
	return transient("minio", "put", key, err)
}

// Download implements Store.
func (m *Minio) Download(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, m.mapErr("get", key, err)
	}
	defer obj.Close()
	n, err := io.Copy(io.NewOffsetWriter(dst, 0), obj)
	if err != nil {
		return n, m.mapErr("get", key, err)
	}
	return n, nil
}

// Delete implements Store.
func (m *Minio) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && isMinioNotFound(err) {
		return nil
	}
	return transient("minio", "remove", key, err)
}

// Exists implements Store.
func (m *Minio) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, transient("minio", "stat", key, err)
}

func (m *Minio) mapErr(operation, key string, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return transient("minio", operation, key, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
