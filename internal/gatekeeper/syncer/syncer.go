// Package syncer moves locally recorded state to the remote sinks.
//
// Three queue/worker pairs handle transactions, capture images and
// alternate-transport documents.  Workers never retry inline; anything
// that fails or arrives while offline waits for the periodic loop,
// which is the only driver of retries.
package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/remote"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/worker"
)

const queueDepth = 256

// Oracle reports cached internet reachability.
type Oracle interface {
	Available() bool
	Invalidate()
}

// TransactionSink ships one transaction to the central endpoint.
type TransactionSink interface {
	Send(ctx context.Context, tx types.Transaction) error
}

// BlobSink stores one capture image remotely.
type BlobSink interface {
	Upload(ctx context.Context, path string) (string, error)
}

// DocumentSink ships one alternate-transport document.
type DocumentSink interface {
	Send(ctx context.Context, path string) error
}

// CommandSource delivers remotely issued relay overrides.
type CommandSource interface {
	Pending(ctx context.Context) ([]remote.RelayCommand, error)
	Ack(ctx context.Context, id string) error
}

// RelayApplier is the slice of the relay controller the command poll
// needs.
type RelayApplier interface {
	Apply(action string, id int) error
}

// Engine owns the queues, the workers and the periodic loop.
type Engine struct {
	cache    *txcache.Cache
	oracle   Oracle
	txSink   TransactionSink
	blobSink BlobSink
	docSink  DocumentSink
	commands CommandSource // nil when no override endpoint is configured
	relays   RelayApplier
	settings *config.Runtime
	logger   *logrus.Logger

	imagesDir   string
	pendingDir  string
	uploadedDir string

	idleInterval time.Duration
	busyInterval time.Duration
	batchSize    int
	batchPause   time.Duration
	imageWorkers int
	docWorkers   int
	rescanLimit  int

	txQueue  chan types.Transaction
	imgQueue chan string
	docQueue chan string
	wake     chan struct{}
}

type Config struct {
	Cache    *txcache.Cache
	Oracle   Oracle
	TxSink   TransactionSink
	BlobSink BlobSink
	DocSink  DocumentSink
	Commands CommandSource
	Relays   RelayApplier
	Settings *config.Runtime

	ImagesDir   string
	PendingDir  string
	UploadedDir string

	IdleInterval time.Duration
	BusyInterval time.Duration
	BatchSize    int
	BatchPause   time.Duration
	ImageWorkers int
	DocWorkers   int
	RescanLimit  int
}

func New(cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{
		cache:        cfg.Cache,
		oracle:       cfg.Oracle,
		txSink:       cfg.TxSink,
		blobSink:     cfg.BlobSink,
		docSink:      cfg.DocSink,
		commands:     cfg.Commands,
		relays:       cfg.Relays,
		settings:     cfg.Settings,
		logger:       logger,
		imagesDir:    cfg.ImagesDir,
		pendingDir:   cfg.PendingDir,
		uploadedDir:  cfg.UploadedDir,
		idleInterval: cfg.IdleInterval,
		busyInterval: cfg.BusyInterval,
		batchSize:    cfg.BatchSize,
		batchPause:   cfg.BatchPause,
		imageWorkers: cfg.ImageWorkers,
		docWorkers:   cfg.DocWorkers,
		rescanLimit:  cfg.RescanLimit,
		txQueue:      make(chan types.Transaction, queueDepth),
		imgQueue:     make(chan string, queueDepth),
		docQueue:     make(chan string, queueDepth),
		wake:         make(chan struct{}, 1),
	}
}

// Start registers every worker with the supervisor.
func (e *Engine) Start(sup *worker.Supervisor) {
	sup.Go("tx-uploader", e.runTransactionWorker)
	for i := 0; i < e.imageWorkers; i++ {
		sup.Go("image-uploader", e.runImageWorker)
	}
	for i := 0; i < e.docWorkers; i++ {
		sup.Go("doc-uploader", e.runDocumentWorker)
	}
	sup.Go("sync-loop", e.runLoop)
}

// ── enqueue ────────────────────────────────────────────────────────────

// EnqueueTransaction hands a fresh transaction to the upload worker.
// When the queue is full the record goes straight to the durable cache
// so nothing is lost; the periodic loop uploads it later.
func (e *Engine) EnqueueTransaction(tx types.Transaction) {
	select {
	case e.txQueue <- tx:
	default:
		e.logger.WithField("id", tx.ID).Warn("transaction queue full, caching for reconcile")
		if err := e.cache.Append(tx); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Error("cache append failed")
		}
	}
}

// EnqueueImage hands a saved capture to the image workers.  Full queue
// drops the path; the rescan pass will find the file again.
func (e *Engine) EnqueueImage(path string) {
	select {
	case e.imgQueue <- path:
	default:
		e.logger.WithField("image", path).Debug("image queue full, deferring to rescan")
	}
}

func (e *Engine) enqueueDocument(path string) {
	select {
	case e.docQueue <- path:
	default:
		e.logger.WithField("doc", path).Debug("document queue full, deferring to rescan")
	}
}

// SyncNow forces a connectivity re-probe and wakes the periodic loop.
func (e *Engine) SyncNow() {
	e.oracle.Invalidate()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) busy() bool {
	return len(e.txQueue)+len(e.imgQueue)+len(e.docQueue) > 0
}

// ── periodic loop ──────────────────────────────────────────────────────

func (e *Engine) runLoop(ctx context.Context) {
	for {
		interval := e.idleInterval
		if e.busy() {
			interval = e.busyInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		case <-e.wake:
		}

		if !e.oracle.Available() {
			continue
		}
		e.reconcileTransactions(ctx)
		e.rescanImages()
		e.rescanDocuments()
		e.pollRelayCommands(ctx)
	}
}

// reconcileTransactions re-uploads cache records still unsynced, in
// paced batches.  Alternate mode delivers through documents instead, so
// the primary sink stays untouched.
func (e *Engine) reconcileTransactions(ctx context.Context) {
	if e.txSink == nil || e.settings.Current().AlternateTransport {
		return
	}
	pending, err := e.cache.Unsynced()
	if err != nil {
		e.logger.WithError(err).Error("unsynced read failed")
		return
	}
	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		for _, tx := range pending[start:end] {
			if err := e.txSink.Send(ctx, tx); err != nil {
				e.logger.WithField("id", tx.ID).WithError(err).Warn("reconcile upload failed")
				return
			}
			if err := e.cache.MarkSynced(tx.ID); err != nil {
				e.logger.WithField("id", tx.ID).WithError(err).Error("mark synced failed")
			}
		}
		if end < len(pending) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.batchPause):
			}
		}
	}
}

func (e *Engine) pollRelayCommands(ctx context.Context) {
	if e.commands == nil {
		return
	}
	cmds, err := e.commands.Pending(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("relay command poll failed")
		return
	}
	for _, cmd := range cmds {
		if err := e.relays.Apply(cmd.Action, cmd.Relay); err != nil {
			e.logger.WithFields(logrus.Fields{"cmd": cmd.ID, "relay": cmd.Relay}).WithError(err).Warn("relay command rejected")
			continue
		}
		if err := e.commands.Ack(ctx, cmd.ID); err != nil {
			e.logger.WithField("cmd", cmd.ID).WithError(err).Warn("relay command ack failed")
		}
	}
}

// txIDFromDocument maps a pending document filename back to its
// transaction.
func txIDFromDocument(name string) string {
	return strings.TrimSuffix(name, ".json")
}
