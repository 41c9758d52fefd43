// Package capture grabs a camera frame for each access decision and
// writes it to local storage for the sync engine to pick up.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

// FrameGrabber pulls one still frame from a camera stream.
type FrameGrabber interface {
	Grab(ctx context.Context, streamURL string) ([]byte, error)
}

// Service captures and stores per-decision snapshots.  A capture
// failure never fails the decision that triggered it.
type Service struct {
	grabber   FrameGrabber
	imagesDir string
	streams   map[int]string // reader ID -> stream URL
	settings  *config.Runtime
	logger    *logrus.Logger

	attempts int
	backoff  time.Duration
	sleep    func(time.Duration) // test hook
}

func NewService(grabber FrameGrabber, imagesDir string, readers []config.ReaderConfig, settings *config.Runtime, logger *logrus.Logger) *Service {
	streams := make(map[int]string, len(readers))
	for _, r := range readers {
		streams[r.ID] = r.StreamURL
	}
	return &Service{
		grabber:   grabber,
		imagesDir: imagesDir,
		streams:   streams,
		settings:  settings,
		logger:    logger,
		attempts:  2,
		backoff:   time.Second,
		sleep:     time.Sleep,
	}
}

// ImageName is the canonical capture filename.  The timestamp prefix
// keeps a directory listing in chronological order for eviction.
func ImageName(tx types.Transaction) string {
	return fmt.Sprintf("%s_r%d_%d.jpg", tx.Card, tx.Reader, tx.Timestamp)
}

// Capture grabs a frame for the transaction and saves it under the
// images directory.  It returns the saved path, or "" when the reader's
// camera is disabled or has no stream configured.
func (s *Service) Capture(ctx context.Context, tx types.Transaction) (string, error) {
	if !s.settings.Current().CameraEnabled[tx.Reader] {
		return "", nil
	}
	stream := s.streams[tx.Reader]
	if stream == "" {
		return "", nil
	}

	var frame []byte
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		frame, err = s.grabber.Grab(ctx, stream)
		if err == nil {
			break
		}
		s.logger.WithFields(logrus.Fields{"reader": tx.Reader, "attempt": attempt}).WithError(err).Warn("frame grab failed")
		if attempt < s.attempts {
			s.sleep(s.backoff)
		}
	}
	if err != nil {
		return "", fmt.Errorf("grab frame for reader %d: %w", tx.Reader, err)
	}

	if err := os.MkdirAll(s.imagesDir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	path := filepath.Join(s.imagesDir, ImageName(tx))
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		return "", fmt.Errorf("save capture %s: %w", filepath.Base(path), err)
	}
	return path, nil
}
