// Package engine turns decoded credentials into access decisions and
// fans the side effects out without ever blocking the decode path.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/authz"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/capture"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/ratelimit"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/relay"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/wiegand"
)

// Capturer saves a snapshot for a transaction.  The concrete
// implementation lives in the capture package; tests stub it.
type Capturer interface {
	Capture(ctx context.Context, tx types.Transaction) (string, error)
}

// Engine is the decision core.  HandleCredential is safe for concurrent
// use by the per-reader decoders.
type Engine struct {
	store    *authz.Store
	limiter  *ratelimit.Limiter
	relays   *relay.Controller
	cache    *txcache.Cache
	capturer Capturer
	settings *config.Runtime
	logger   *logrus.Logger

	entityID   string
	pendingDir string

	// Primary-mode hand-offs to the sync engine.  Both must be
	// non-blocking; nil disables the corresponding route.
	submitTx    func(types.Transaction)
	submitImage func(path string)

	now        func() time.Time // test hooks
	newID      func() string
	afterEvent func() // runs when an event's side effects finish
}

type Config struct {
	Store       *authz.Store
	Limiter     *ratelimit.Limiter
	Relays      *relay.Controller
	Cache       *txcache.Cache
	Capturer    Capturer
	Settings    *config.Runtime
	EntityID    string
	PendingDir  string
	SubmitTx    func(types.Transaction)
	SubmitImage func(path string)
}

func New(cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{
		store:       cfg.Store,
		limiter:     cfg.Limiter,
		relays:      cfg.Relays,
		cache:       cfg.Cache,
		capturer:    cfg.Capturer,
		settings:    cfg.Settings,
		logger:      logger,
		entityID:    cfg.EntityID,
		pendingDir:  cfg.PendingDir,
		submitTx:    cfg.SubmitTx,
		submitImage: cfg.SubmitImage,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// HandleCredential is the decode-complete callback for one reader.  It
// decides synchronously (the relay pulse must not wait on I/O) and runs
// everything else on a fresh goroutine.
func (e *Engine) HandleCredential(ev types.CredentialEvent) {
	card, err := wiegand.Extract(ev.BitCount, ev.RawValue)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"reader": ev.ReaderID, "bits": ev.BitCount}).WithError(err).Warn("unusable frame")
		return
	}

	e.limiter.SetCooldown(e.settings.Current().ScanCooldown)
	if !e.limiter.ShouldProcess(card) {
		e.logger.WithFields(logrus.Fields{"reader": ev.ReaderID, "card": card}).Debug("scan suppressed by cooldown")
		return
	}

	tx := e.decide(card, ev.ReaderID)
	e.logger.WithFields(logrus.Fields{
		"reader": tx.Reader,
		"card":   tx.Card,
		"status": string(tx.Status),
	}).Info("access decision")

	go e.record(tx)
}

// decide resolves the status and actuates the relay.  Blocked wins over
// allowed; a held relay is never pulsed.
func (e *Engine) decide(card int64, readerID int) types.Transaction {
	tx := types.Transaction{
		ID:        e.newID(),
		Card:      strconv.FormatInt(card, 10),
		Reader:    readerID,
		Timestamp: e.now().Unix(),
		EntityID:  e.entityID,
	}

	switch {
	case e.store.IsBlocked(card):
		tx.Status = types.StatusBlocked
		tx.Name = types.NameBlocked
	case e.store.IsAllowed(card):
		tx.Status = types.StatusGranted
		tx.Name = types.NameUnknown
		if rec, ok := e.store.Lookup(card); ok {
			tx.Name = rec.Name
		}
		if state, err := e.relays.State(readerID); err == nil && state == types.RelayNormal {
			if err := e.relays.Pulse(readerID); err != nil {
				e.logger.WithField("relay", readerID).WithError(err).Error("pulse failed")
			}
		}
	default:
		tx.Status = types.StatusDenied
		tx.Name = types.NameUnknown
	}
	return tx
}

// record runs the post-decision side effects.  Failures are logged and
// contained here.
func (e *Engine) record(tx types.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("id", tx.ID).Errorf("recovered panic in side effects: %v", r)
		}
		if e.afterEvent != nil {
			e.afterEvent()
		}
	}()

	if err := e.cache.RecordOutcome(tx.Status); err != nil {
		e.logger.WithError(err).Error("daily stats update failed")
	}

	var imagePath string
	if e.capturer != nil {
		path, err := e.capturer.Capture(context.Background(), tx)
		if err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Warn("capture failed")
		}
		imagePath = path
	}

	if e.settings.Current().AlternateTransport {
		if err := e.cache.Append(tx); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Error("cache append failed")
			return
		}
		if _, err := capture.WriteDocument(e.pendingDir, tx, imagePath); err != nil {
			e.logger.WithField("id", tx.ID).WithError(err).Error("document write failed")
		}
		return
	}

	if e.submitTx != nil {
		e.submitTx(tx)
	}
	if imagePath != "" && e.submitImage != nil {
		e.submitImage(imagePath)
	}
}
