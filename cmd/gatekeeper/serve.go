package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxpark/gatekeeper/internal/config"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/authz"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/capture"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/connectivity"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/engine"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/pigpio"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/ratelimit"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/relay"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/remote"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/steward"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/syncer"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/wiegand"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/worker"
	"github.com/maxpark/gatekeeper/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger := newLogger()
	cfg := config.FromEnv()
	settings := config.NewRuntime()

	store := authz.NewStore(cfg.UsersFile(), cfg.BlockedFile())
	if err := store.Load(); err != nil {
		return fmt.Errorf("load user stores: %w", err)
	}
	cache := txcache.New(cfg.TransactionsFile(), cfg.DailyStatsFile())

	// Hardware.  A missing pigpio daemon is survivable: decisions and
	// recording keep working, relays run state-only and no frames
	// arrive until restart.
	relayPins := make(map[int]int, len(cfg.Readers))
	readerIDs := make([]int, 0, len(cfg.Readers))
	for _, rc := range cfg.Readers {
		relayPins[rc.ID] = rc.RelayPin
		readerIDs = append(readerIDs, rc.ID)
	}

	var out relay.Output
	gpio, err := pigpio.Dial(cfg.PigpioAddr, 5*time.Second)
	if err != nil {
		logger.WithError(err).Warn("pigpio unavailable, relays state-only and readers idle")
	} else {
		defer gpio.Close()
		pins := make([]int, 0, len(relayPins))
		for _, pin := range relayPins {
			pins = append(pins, pin)
		}
		pigOut, err := pigpio.NewOutput(gpio, pins)
		if err != nil {
			logger.WithError(err).Warn("relay pin setup failed, relays state-only")
		} else {
			out = pigOut
		}
	}
	relays := relay.NewController(out, relayPins, cfg.RelayDwell, logger)

	oracle := connectivity.New(connectivity.Config{
		ProbeURL: cfg.ProbeURL,
		TTL:      cfg.ProbeTTL,
		Timeout:  cfg.ProbeTimeout,
	}, logger)

	// Remote sinks come up only when configured; everything degrades
	// to local-only recording without them.
	var txSink syncer.TransactionSink
	if cfg.TransactionSinkURL != "" {
		txSink = remote.NewTransactionSink(cfg.TransactionSinkURL, cfg.APIKey, cfg.UploadTimeout, logger)
	}
	var blobSink syncer.BlobSink
	switch {
	case cfg.S3Endpoint != "":
		s3, err := remote.NewS3BlobSink(remote.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("s3 sink: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Warn("s3 bucket check failed, continuing")
		}
		blobSink = s3
	case cfg.BlobSinkURL != "":
		blobSink = remote.NewMultipartBlobSink(cfg.BlobSinkURL, cfg.APIKey, cfg.UploadTimeout, logger)
	}
	var docSink syncer.DocumentSink
	if cfg.JSONSinkURL != "" {
		docSink = remote.NewJSONSink(cfg.JSONSinkURL, cfg.APIKey, cfg.JSONUploadTimeout, logger)
	}
	var commands syncer.CommandSource
	if cfg.RelayCommandURL != "" {
		commands = remote.NewCommandSource(cfg.RelayCommandURL, cfg.APIKey, cfg.ProbeTimeout)
	}

	sync := syncer.New(syncer.Config{
		Cache:        cache,
		Oracle:       oracle,
		TxSink:       txSink,
		BlobSink:     blobSink,
		DocSink:      docSink,
		Commands:     commands,
		Relays:       relays,
		Settings:     settings,
		ImagesDir:    cfg.ImagesDir,
		PendingDir:   cfg.JSONPendingDir(),
		UploadedDir:  cfg.JSONUploadedDir(),
		IdleInterval: cfg.SyncIdleInterval,
		BusyInterval: cfg.SyncBusyInterval,
		BatchSize:    cfg.SyncBatchSize,
		BatchPause:   cfg.SyncBatchPause,
		ImageWorkers: cfg.ImageWorkers,
		DocWorkers:   cfg.JSONWorkers,
		RescanLimit:  cfg.RescanLimit,
	}, logger)

	capSvc := capture.NewService(capture.NewFFmpegGrabber(cfg.CaptureTimeout), cfg.ImagesDir, cfg.Readers, settings, logger)

	eng := engine.New(engine.Config{
		Store:       store,
		Limiter:     ratelimit.New(settings.Current().ScanCooldown),
		Relays:      relays,
		Cache:       cache,
		Capturer:    capSvc,
		Settings:    settings,
		EntityID:    cfg.EntityID,
		PendingDir:  cfg.JSONPendingDir(),
		SubmitTx:    sync.EnqueueTransaction,
		SubmitImage: sync.EnqueueImage,
	}, logger)

	sup := worker.NewSupervisor(logger)

	if err := startReaders(cfg, gpio, eng, sup, logger); err != nil {
		return err
	}

	sync.Start(sup)

	stew := steward.New(steward.Config{
		ImagesDir:                cfg.ImagesDir,
		UploadedDir:              cfg.JSONUploadedDir(),
		Cache:                    cache,
		CheckInterval:            cfg.StorageCheckInterval,
		TransactionRetentionDays: cfg.TransactionRetentionDays,
		StatsRetentionDays:       cfg.StatsRetentionDays,
		DocumentRetentionDays:    cfg.JSONRetentionDays,
	}, logger)
	sup.Go("steward", stew.Run)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger,
		Addr:      cfg.HTTPAddr,
		APIKey:    cfg.APIKey,
		EntityID:  cfg.EntityID,
		Store:     store,
		Cache:     cache,
		Relays:    relays,
		Syncer:    sync,
		Settings:  settings,
		ReaderIDs: readerIDs,
		ImagesDir: cfg.ImagesDir,
	})

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		sup.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	sup.Stop()
	return nil
}

// startReaders wires one decoder per configured reader and, when the
// daemon is reachable, a single notification watcher feeding them.
func startReaders(cfg config.Config, gpio *pigpio.Conn, eng *engine.Engine, sup *worker.Supervisor, logger *logrus.Logger) error {
	type line struct {
		dec *wiegand.Decoder
		bit uint8
	}
	byPin := make(map[int]line)
	var watchPins []int

	for _, rc := range cfg.Readers {
		rc := rc
		dec, err := wiegand.New(wiegand.Config{
			ReaderID:     rc.ID,
			ExpectedBits: rc.ExpectedBits,
			Timeout:      cfg.InterBitTimeout,
		}, func(bits int, value uint64) {
			eng.HandleCredential(types.CredentialEvent{ReaderID: rc.ID, BitCount: bits, RawValue: value})
		}, logger)
		if err != nil {
			return fmt.Errorf("reader %d: %w", rc.ID, err)
		}
		sup.Go(fmt.Sprintf("decoder-%d", rc.ID), dec.Run)
		byPin[rc.D0Pin] = line{dec: dec, bit: 0}
		byPin[rc.D1Pin] = line{dec: dec, bit: 1}
		watchPins = append(watchPins, rc.D0Pin, rc.D1Pin)
	}

	if gpio == nil {
		return nil
	}
	for _, pin := range watchPins {
		if err := gpio.SetInput(pin); err != nil {
			logger.WithField("pin", pin).WithError(err).Warn("input setup failed")
		}
	}

	// Data lines idle high; a falling edge is one transmitted bit.
	watcher, err := pigpio.NewWatcher(cfg.PigpioAddr, watchPins, func(pin int, level bool, at time.Time) {
		if level {
			return
		}
		if l, ok := byPin[pin]; ok {
			l.dec.Feed(wiegand.Edge{Bit: l.bit, Tick: at})
		}
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("edge watcher unavailable, readers idle")
		return nil
	}
	sup.Go("gpio-watch", watcher.Run)
	return nil
}
