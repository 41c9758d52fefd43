package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// BlobSink stores a capture image remotely and returns the location the
// server assigned to it.
type BlobSink interface {
	Upload(ctx context.Context, path string) (location string, err error)
}

// ── multipart sink ─────────────────────────────────────────────────────

// MultipartBlobSink posts images as multipart/form-data to an HTTP
// endpoint.  A 413 response is permanent: the image is too large and no
// retry will change that.
type MultipartBlobSink struct {
	url    string
	apiKey string
	client *http.Client
	logger *logrus.Logger
}

func NewMultipartBlobSink(url, apiKey string, timeout time.Duration, logger *logrus.Logger) *MultipartBlobSink {
	return &MultipartBlobSink{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (s *MultipartBlobSink) Upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post image %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		s.logger.WithField("image", filepath.Base(path)).Warn("image rejected as too large")
		return "", permanentf("image upload: %s rejected with 413", filepath.Base(path))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("image upload: unexpected status %d", resp.StatusCode)
	}

	var reply struct {
		Location string `json:"location"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		// Upload succeeded even if the reply is unreadable.
		s.logger.WithError(err).Debug("image upload: undecodable response body")
		return "", nil
	}
	return reply.Location, nil
}

// ── S3 sink ────────────────────────────────────────────────────────────

// S3BlobSink puts images straight into an S3-compatible bucket instead
// of going through the multipart endpoint.
type S3BlobSink struct {
	client *minio.Client
	bucket string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func NewS3BlobSink(cfg S3Config) (*S3BlobSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3BlobSink{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the capture bucket if it does not exist yet.
func (s *S3BlobSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

func (s *S3BlobSink) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat image %s: %w", path, err)
	}

	key := filepath.Base(path)
	opts := minio.PutObjectOptions{ContentType: "image/jpeg"}
	if _, err := s.client.PutObject(ctx, s.bucket, key, f, st.Size(), opts); err != nil {
		return "", fmt.Errorf("put image %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
