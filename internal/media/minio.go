package media

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"civicreport/internal/config"
)

type objectStore interface {
	PutObject(ctx context.Context, bucket, object string, r *bytes.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, bucket, object string) error
}

type minioObjects struct {
	client *minio.Client
}

func (o minioObjects) PutObject(ctx context.Context, bucket, object string, r *bytes.Reader, size int64, contentType string) error {
	_, err := o.client.PutObject(ctx, bucket, object, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (o minioObjects) RemoveObject(ctx context.Context, bucket, object string) error {
	return o.client.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
}

// MinIO uploads the decoded payload and stores its URL instead of the data.
type MinIO struct {
	objects  objectStore
	bucket   string
	baseURL  string
	maxBytes int64
}

func NewMinIO(ctx context.Context, cfg config.Config, logger *zap.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.MinIOBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.MinIOBucket, err)
		}
		logger.Info("created media bucket", zap.String("bucket", cfg.MinIOBucket))
	}
	base := strings.TrimRight(cfg.MinIOPublicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(client.EndpointURL().String(), "/")
	}
	return &MinIO{
		objects:  minioObjects{client: client},
		bucket:   cfg.MinIOBucket,
		baseURL:  base,
		maxBytes: cfg.MaxMediaBytes,
	}, nil
}

func (m *MinIO) Save(ctx context.Context, dataURL string) (string, error) {
	d, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if err := checkSize(d, m.maxBytes); err != nil {
		return "", err
	}
	name := "reports/" + uuid.NewString() + extension(d.MIME)
	if err := m.objects.PutObject(ctx, m.bucket, name, bytes.NewReader(d.Data), int64(len(d.Data)), d.MIME); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	return m.prefix() + name, nil
}

// Remove deletes the object behind a URL returned by Save. URLs this store
// did not issue are ignored.
func (m *MinIO) Remove(ctx context.Context, stored string) error {
	name, ok := strings.CutPrefix(stored, m.prefix())
	if !ok || name == "" {
		return nil
	}
	if err := m.objects.RemoveObject(ctx, m.bucket, name); err != nil {
		return fmt.Errorf("remove media: %w", err)
	}
	return nil
}

func (m *MinIO) prefix() string { return m.baseURL + "/" + m.bucket + "/" }

func extension(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
