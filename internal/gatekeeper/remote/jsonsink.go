package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// JSONSink uploads the combined JSON documents produced in alternate
// transport mode.  Each document already contains the transaction and
// the base64-encoded capture, so the sink just ships file contents.
type JSONSink struct {
	url    string
	apiKey string
	client *http.Client
	logger *logrus.Logger
}

func NewJSONSink(url, apiKey string, timeout time.Duration, logger *logrus.Logger) *JSONSink {
	return &JSONSink{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send posts the document at path.  Callers move the file out of the
// pending directory only on a nil return.
func (s *JSONSink) Send(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post document %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return permanentf("document upload: %s rejected with 413", filepath.Base(path))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{"doc": filepath.Base(path), "status": resp.StatusCode}).Warn("document upload rejected")
		return fmt.Errorf("document upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}
