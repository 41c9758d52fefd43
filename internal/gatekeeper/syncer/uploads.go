package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/capture"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/remote"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

const (
	uploadedMarker = ".uploaded.json"
	failedMarker   = ".failed.json"
)

// uploadReceipt is the sidecar written next to a shipped image.
type uploadReceipt struct {
	Location   string `json:"location,omitempty"`
	UploadedAt int64  `json:"uploaded_at"`
	Error      string `json:"error,omitempty"`
}

// ── transaction worker ─────────────────────────────────────────────────

// runTransactionWorker drains the transaction queue.  Append to the
// cache always comes first; the upload is attempted once and only when
// online.  Anything left unsynced belongs to the reconcile pass.
func (e *Engine) runTransactionWorker(ctx context.Context) {
	for {
		var tx types.Transaction
		select {
		case <-ctx.Done():
			return
		case tx = <-e.txQueue:
		}

		if err := e.cache.Append(tx); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Error("cache append failed")
			continue
		}
		if e.txSink == nil || !e.oracle.Available() {
			continue
		}
		if err := e.txSink.Send(ctx, tx); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Warn("transaction upload failed")
			continue
		}
		if err := e.cache.MarkSynced(tx.ID); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Error("mark synced failed")
		}
	}
}

// ── image workers ──────────────────────────────────────────────────────

func (e *Engine) runImageWorker(ctx context.Context) {
	for {
		var path string
		select {
		case <-ctx.Done():
			return
		case path = <-e.imgQueue:
		}
		e.uploadImage(ctx, path)
	}
}

func (e *Engine) uploadImage(ctx context.Context, path string) {
	if hasMarker(path) {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return // evicted or never written
	}
	if e.blobSink == nil || !e.oracle.Available() {
		return
	}

	loc, err := e.blobSink.Upload(ctx, path)
	switch {
	case err == nil:
		receipt := uploadReceipt{Location: loc, UploadedAt: time.Now().Unix()}
		if werr := jsonfile.Write(path+uploadedMarker, receipt); werr != nil {
			e.logger.WithField("image", path).WithError(werr).Error("marker write failed")
		}
	case errors.Is(err, remote.ErrPermanent):
		e.logger.WithField("image", path).WithError(err).Warn("image permanently rejected")
		receipt := uploadReceipt{UploadedAt: time.Now().Unix(), Error: err.Error()}
		if werr := jsonfile.Write(path+failedMarker, receipt); werr != nil {
			e.logger.WithField("image", path).WithError(werr).Error("marker write failed")
		}
	default:
		e.logger.WithField("image", path).WithError(err).Warn("image upload failed")
	}
}

func hasMarker(path string) bool {
	if _, err := os.Stat(path + uploadedMarker); err == nil {
		return true
	}
	if _, err := os.Stat(path + failedMarker); err == nil {
		return true
	}
	return false
}

// rescanImages re-enqueues unshipped captures, oldest first.
func (e *Engine) rescanImages() {
	entries, err := os.ReadDir(e.imagesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.WithError(err).Error("images rescan failed")
		}
		return
	}

	type candidate struct {
		path string
		ts   time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		path := filepath.Join(e.imagesDir, entry.Name())
		if hasMarker(path) {
			continue
		}
		ts, ok := capture.ParseImageTime(entry.Name())
		if !ok {
			if info, err := entry.Info(); err == nil {
				ts = info.ModTime()
			}
		}
		found = append(found, candidate{path: path, ts: ts})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ts.Before(found[j].ts) })

	for i, c := range found {
		if i >= e.rescanLimit {
			break
		}
		e.EnqueueImage(c.path)
	}
}

// ── document workers ───────────────────────────────────────────────────

func (e *Engine) runDocumentWorker(ctx context.Context) {
	for {
		var path string
		select {
		case <-ctx.Done():
			return
		case path = <-e.docQueue:
		}
		e.uploadDocument(ctx, path)
	}
}

func (e *Engine) uploadDocument(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return // already moved by another worker
	}
	if e.docSink == nil || !e.oracle.Available() {
		return
	}

	err := e.docSink.Send(ctx, path)
	switch {
	case err == nil:
		if err := os.MkdirAll(e.uploadedDir, 0o755); err != nil {
			e.logger.WithError(err).Error("uploaded dir create failed")
			return
		}
		dest := filepath.Join(e.uploadedDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			e.logger.WithField("doc", path).WithError(err).Error("document move failed")
			return
		}
		if err := e.cache.MarkSynced(txIDFromDocument(filepath.Base(path))); err != nil {
			e.logger.WithField("doc", path).WithError(err).Error("mark synced failed")
		}
	case errors.Is(err, remote.ErrPermanent):
		e.logger.WithField("doc", path).WithError(err).Warn("document permanently rejected")
		if rerr := os.Rename(path, path+".failed"); rerr != nil {
			e.logger.WithField("doc", path).WithError(rerr).Error("document quarantine failed")
		}
	default:
		e.logger.WithField("doc", path).WithError(err).Warn("document upload failed")
	}
}

// rescanDocuments re-enqueues pending documents, oldest first by mtime.
func (e *Engine) rescanDocuments() {
	entries, err := os.ReadDir(e.pendingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			e.logger.WithError(err).Error("documents rescan failed")
		}
		return
	}

	type candidate struct {
		path string
		ts   time.Time
	}
	var found []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(e.pendingDir, entry.Name()), ts: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ts.Before(found[j].ts) })

	for i, c := range found {
		if i >= e.rescanLimit {
			break
		}
		e.enqueueDocument(c.path)
	}
}
