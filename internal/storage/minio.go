package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string // e.g. https://cdn.example.com when MinIO sits behind a proxy
}

// MinIOStore is the S3-compatible alternative to Supabase Storage.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *zap.Logger
}

func NewMinIO(ctx context.Context, cfg MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
		logger:    logger,
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize bucket: %w", err)
	}
	return store, nil
}

func (m *MinIOStore) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	m.logger.Info("created bucket", zap.String("bucket", m.bucket))
	return nil
}

// UploadFile streams a local file into the bucket, retrying transient failures.
func (m *MinIOStore) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	op := func() error {
		f, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to open %s: %w", localPath, err))
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to stat %s: %w", localPath, err))
		}

		_, err = m.client.PutObject(ctx, m.bucket, key, f, info.Size(), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			m.logger.Warn("upload attempt failed", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("failed to upload file: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

// URL returns a presigned GET link, rewritten onto the public host when one
// is configured.
func (m *MinIOStore) URL(ctx context.Context, key string) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, signedURLExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return rewriteHost(u, m.publicURL)
}

// rewriteHost swaps scheme and host for those of publicURL, keeping the
// bucket path and signature query.
func rewriteHost(u *url.URL, publicURL string) (string, error) {
	if publicURL == "" {
		return u.String(), nil
	}
	pub, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("invalid public URL %q: %w", publicURL, err)
	}
	out := *u
	out.Scheme = pub.Scheme
	out.Host = pub.Host
	return out.String(), nil
}

var _ ObjectStore = (*MinIOStore)(nil)
var _ ObjectStore = (*Storage)(nil)
