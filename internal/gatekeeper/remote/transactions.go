package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

// TransactionSink posts access transactions to the central endpoint as
// JSON documents.
type TransactionSink struct {
	url    string
	apiKey string
	client *http.Client
	logger *logrus.Logger
}

func NewTransactionSink(url, apiKey string, timeout time.Duration, logger *logrus.Logger) *TransactionSink {
	return &TransactionSink{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Send uploads a single transaction.  A 2xx response means the record
// is durably received and may be marked synced locally.
func (s *TransactionSink) Send(ctx context.Context, tx types.Transaction) error {
	body, err := json.Marshal(tx)
	if err != nil {
		return permanentf("marshal transaction %s", tx.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transaction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post transaction %s: %w", tx.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(logrus.Fields{"id": tx.ID, "status": resp.StatusCode}).Warn("transaction upload rejected")
		return fmt.Errorf("transaction upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}
