// Package steward keeps local storage inside its budget so the gate
// can run unattended for months on a small disk.
package steward

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
)

const (
	budgetFraction  = 0.60 // share of current free space granted to the image dir
	reclaimFraction = 0.30 // share of the budget freed per eviction pass

	budgetFloor  = 1 << 30   // even a full disk keeps at least 1 GiB of captures
	reclaimFloor = 512 << 20 // an eviction pass frees at least 512 MiB
)

// Steward owns the eviction and retention passes.
type Steward struct {
	imagesDir   string
	uploadedDir string
	cache       *txcache.Cache
	logger      *logrus.Logger

	checkInterval   time.Duration
	txRetentionDays int
	statsKeepDays   int
	docKeepDays     int

	freeBytes func(path string) (uint64, error) // test hook
	now       func() time.Time
}

type Config struct {
	ImagesDir   string
	UploadedDir string
	Cache       *txcache.Cache

	CheckInterval            time.Duration
	TransactionRetentionDays int
	StatsRetentionDays       int
	DocumentRetentionDays    int
}

func New(cfg Config, logger *logrus.Logger) *Steward {
	return &Steward{
		imagesDir:       cfg.ImagesDir,
		uploadedDir:     cfg.UploadedDir,
		cache:           cfg.Cache,
		logger:          logger,
		checkInterval:   cfg.CheckInterval,
		txRetentionDays: cfg.TransactionRetentionDays,
		statsKeepDays:   cfg.StatsRetentionDays,
		docKeepDays:     cfg.DocumentRetentionDays,
		freeBytes:       diskFree,
		now:             time.Now,
	}
}

// Run drives the periodic passes until ctx is cancelled.  Storage is
// checked every interval; retention once per day.
func (s *Steward) Run(ctx context.Context) {
	storage := time.NewTicker(s.checkInterval)
	defer storage.Stop()
	retention := time.NewTicker(24 * time.Hour)
	defer retention.Stop()

	s.PruneRetention()
	for {
		select {
		case <-ctx.Done():
			return
		case <-storage.C:
			s.CheckStorage()
		case <-retention.C:
			s.PruneRetention()
		}
	}
}
