package steward

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/capture"
)

func diskFree(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

type storedImage struct {
	path string
	size int64
	ts   time.Time
}

// CheckStorage evicts the oldest captures when the image directory
// outgrows its share of usable space.  One pass frees enough to stay
// quiet for a while instead of shaving files one at a time.
func (s *Steward) CheckStorage() {
	images, total, err := s.listImages()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Error("storage scan failed")
		}
		return
	}

	free, err := s.freeBytes(s.imagesDir)
	if err != nil {
		s.logger.WithError(err).Error("free space check failed")
		return
	}

	// The budget follows what is left on the disk, so a filling disk
	// shrinks it toward the floor and eviction starts sooner.
	budget := uint64(float64(free) * budgetFraction)
	if budget < budgetFloor {
		budget = budgetFloor
	}
	if uint64(total) <= budget {
		return
	}

	target := int64(float64(budget) * reclaimFraction)
	if target < reclaimFloor {
		target = reclaimFloor
	}
	s.logger.WithFields(logrus.Fields{
		"used":   total,
		"budget": budget,
		"target": target,
	}).Warn("image storage over budget, evicting")

	sort.Slice(images, func(i, j int) bool { return images[i].ts.Before(images[j].ts) })

	var reclaimed int64
	for _, img := range images {
		if reclaimed >= target {
			break
		}
		if err := os.Remove(img.path); err != nil {
			s.logger.WithField("image", img.path).WithError(err).Warn("evict failed")
			continue
		}
		// Markers go with their image; missing ones are fine.
		os.Remove(img.path + ".uploaded.json")
		os.Remove(img.path + ".failed.json")
		reclaimed += img.size
	}
	s.logger.WithField("reclaimed", reclaimed).Info("eviction pass done")
}

func (s *Steward) listImages() ([]storedImage, int64, error) {
	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		return nil, 0, err
	}
	var images []storedImage
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		if !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		ts, ok := capture.ParseImageTime(entry.Name())
		if !ok {
			ts = info.ModTime()
		}
		images = append(images, storedImage{
			path: filepath.Join(s.imagesDir, entry.Name()),
			size: info.Size(),
			ts:   ts,
		})
	}
	return images, total, nil
}

// PruneRetention ages out transactions, stats and shipped documents.
func (s *Steward) PruneRetention() {
	cutoff := s.now().AddDate(0, 0, -s.txRetentionDays)
	if n, err := s.cache.PruneOlderThan(cutoff); err != nil {
		s.logger.WithError(err).Error("transaction prune failed")
	} else if n > 0 {
		s.logger.WithField("removed", n).Info("pruned old transactions")
	}

	if n, err := s.cache.PruneStats(s.statsKeepDays); err != nil {
		s.logger.WithError(err).Error("stats prune failed")
	} else if n > 0 {
		s.logger.WithField("removed", n).Info("pruned old daily stats")
	}

	s.pruneDocuments()
}

// pruneDocuments removes shipped alternate-transport files past their
// retention window.
func (s *Steward) pruneDocuments() {
	entries, err := os.ReadDir(s.uploadedDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Error("document prune scan failed")
		}
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.docKeepDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.uploadedDir, entry.Name())); err != nil {
			s.logger.WithField("doc", entry.Name()).WithError(err).Warn("document prune failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("pruned shipped documents")
	}
}
