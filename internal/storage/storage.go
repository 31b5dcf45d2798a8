package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ObjectStore is where finished renders are published.
type ObjectStore interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	URL(ctx context.Context, key string) (string, error)
}

const (
	// Upload timeout per attempt, renders can be 50MB+
	uploadTimeout = 180 * time.Second

	// Download timeout
	downloadTimeout = 120 * time.Second

	// Retry configuration
	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second

	signedURLExpiry = 7 * 24 * time.Hour
)

// Storage talks to Supabase Storage over its REST API.
type Storage struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	logger     *zap.Logger
	retryBase  time.Duration
}

func New(url, serviceKey, bucket string, logger *zap.Logger) *Storage {
	return &Storage{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    logger,
		retryBase: baseRetryDelay,
	}
}

// VideoKey is the object key of a file belonging to a video.
func VideoKey(videoID uuid.UUID, filename string) string {
	return path.Join(videoID.String(), filename)
}

// Upload uploads data to Supabase Storage, retrying transient failures with
// exponential backoff. Uses PUT with Content-Length and x-upsert.
func (s *Storage) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	url := s.objectURL(key)

	attempts := 0
	op := func() error {
		attempts++

		// Each attempt gets its own timeout, bounded by the caller's ctx
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				s.logger.Warn("upload attempt failed, retrying",
					zap.String("key", key), zap.Int("attempt", attempts), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}

		err = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
		if isRetryableStatus(resp.StatusCode) {
			s.logger.Warn("upload attempt rejected, retrying",
				zap.String("key", key),
				zap.Int("attempt", attempts),
				zap.Int("status", resp.StatusCode),
				zap.String("body", truncate(string(body), 200)))
			return err
		}

		// Non-retryable status (400, 401, 403, 404, 413, etc.)
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return fmt.Errorf("upload of %s failed after %d attempts: %w", key, attempts, err)
	}
	if attempts > 1 {
		s.logger.Info("upload succeeded after retry", zap.String("key", key), zap.Int("attempts", attempts))
	}
	return nil
}

// UploadFile uploads a file from a local path
func (s *Storage) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}

	return s.Upload(ctx, key, data, contentType)
}

// Download downloads a file from Supabase Storage with retries
func (s *Storage) Download(ctx context.Context, key string) ([]byte, error) {
	url := s.objectURL(key)

	var data []byte
	op := func() error {
		dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to download: %w", err)
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read download body: %w", err)
			}
			data = body
			return nil
		}

		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("download failed with status %d: %s", resp.StatusCode, string(body))
		if isRetryableStatus(resp.StatusCode) {
			s.logger.Warn("download attempt rejected, retrying",
				zap.String("key", key), zap.Int("status", resp.StatusCode))
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return data, nil
}

// GetPublicURL returns the public URL for a file
func (s *Storage) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, key)
}

// GetSignedURL creates a signed URL for temporary access
func (s *Storage) GetSignedURL(ctx context.Context, key string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, key)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	return s.url + "/storage/v1" + result.SignedURL, nil
}

// URL returns a week-long signed link to the object.
func (s *Storage) URL(ctx context.Context, key string) (string, error) {
	return s.GetSignedURL(ctx, key, int(signedURLExpiry.Seconds()))
}

func (s *Storage) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)
}

func (s *Storage) retryPolicy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBase
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status == http.StatusBadGateway || // 502
		status == http.StatusServiceUnavailable || // 503
		status == http.StatusGatewayTimeout // 504
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
