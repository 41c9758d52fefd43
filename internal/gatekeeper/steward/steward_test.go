package steward

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/txcache"
	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSteward(t *testing.T) *Steward {
	t.Helper()
	dir := t.TempDir()
	cache := txcache.New(filepath.Join(dir, "tx.json"), filepath.Join(dir, "stats.json"))
	s := New(Config{
		ImagesDir:                filepath.Join(dir, "images"),
		UploadedDir:              filepath.Join(dir, "uploaded"),
		Cache:                    cache,
		CheckInterval:            time.Hour,
		TransactionRetentionDays: 120,
		StatsRetentionDays:       20,
		DocumentRetentionDays:    120,
	}, silentLogger())
	if err := os.MkdirAll(s.imagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return s
}

// writeImageWithMarker creates a sparse file so tests can stage
// gigabyte-scale directories without touching that much disk.
func writeImageWithMarker(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".uploaded.json", []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const gib = 1 << 30

func TestCheckStorageUnderBudgetIsQuiet(t *testing.T) {
	s := newTestSteward(t)
	path := writeImageWithMarker(t, s.imagesDir, "5001_r1_100.jpg", 100)
	s.freeBytes = func(string) (uint64, error) { return 1 << 30, nil }

	s.CheckStorage()

	if _, err := os.Stat(path); err != nil {
		t.Error("under-budget image was evicted")
	}
}

func TestCheckStorageEvictsOldestWithSidecars(t *testing.T) {
	s := newTestSteward(t)
	oldest := writeImageWithMarker(t, s.imagesDir, "5001_r1_100.jpg", gib)
	middle := writeImageWithMarker(t, s.imagesDir, "5002_r1_200.jpg", gib)
	newest := writeImageWithMarker(t, s.imagesDir, "5003_r1_300.jpg", gib)

	// Almost no free space: the floor budget is all the directory gets
	// and the pass has to reclaim by deleting from the oldest end.
	s.freeBytes = func(string) (uint64, error) { return 0, nil }

	s.CheckStorage()

	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("oldest image survived eviction")
	}
	if _, err := os.Stat(oldest + ".uploaded.json"); !os.IsNotExist(err) {
		t.Error("evicted image left its sidecar behind")
	}
	if _, err := os.Stat(newest); err != nil {
		t.Error("newest image should survive")
	}
	_ = middle
}

func TestCheckStorageBudgetFollowsFreeSpace(t *testing.T) {
	s := newTestSteward(t)
	var paths []string
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("500%d_r1_%d.jpg", i, 100+100*i)
		paths = append(paths, writeImageWithMarker(t, s.imagesDir, name, gib))
	}

	// 7 GiB stored against 10 GiB free: the budget is 6 GiB of the
	// free space alone, not of free plus what the images already hold,
	// so this pass must evict.  Reclaim is 30% of the budget, which
	// takes exactly the two oldest files here.
	s.freeBytes = func(string) (uint64, error) { return 10 * gib, nil }

	s.CheckStorage()

	for _, p := range paths[:2] {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should have been evicted", filepath.Base(p))
		}
	}
	for _, p := range paths[2:] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should survive", filepath.Base(p))
		}
	}
}

func TestCheckStorageBudgetNeverBelowFloor(t *testing.T) {
	s := newTestSteward(t)
	path := writeImageWithMarker(t, s.imagesDir, "5001_r1_100.jpg", gib/2)

	// Almost no free space, but stored images are under the 1 GiB
	// floor, so nothing goes.
	s.freeBytes = func(string) (uint64, error) { return 4096, nil }

	s.CheckStorage()

	if _, err := os.Stat(path); err != nil {
		t.Error("image under the floor budget was evicted")
	}
}

func TestCheckStorageMissingDirIsFine(t *testing.T) {
	s := newTestSteward(t)
	if err := os.RemoveAll(s.imagesDir); err != nil {
		t.Fatal(err)
	}
	s.freeBytes = func(string) (uint64, error) { return 0, nil }
	s.CheckStorage()
}

func TestPruneRetentionAgesOutTransactions(t *testing.T) {
	s := newTestSteward(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := types.Transaction{ID: "old", Card: "1", Status: types.StatusGranted, Timestamp: now.AddDate(0, 0, -121).Unix(), Synced: true}
	fresh := types.Transaction{ID: "fresh", Card: "2", Status: types.StatusGranted, Timestamp: now.AddDate(0, 0, -1).Unix()}
	if err := s.cache.Append(old); err != nil {
		t.Fatal(err)
	}
	if err := s.cache.Append(fresh); err != nil {
		t.Fatal(err)
	}

	s.PruneRetention()

	got, err := s.cache.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Errorf("surviving records: %+v", got)
	}
}

func TestPruneRetentionRemovesShippedDocuments(t *testing.T) {
	s := newTestSteward(t)
	if err := os.MkdirAll(s.uploadedDir, 0o755); err != nil {
		t.Fatal(err)
	}
	oldDoc := filepath.Join(s.uploadedDir, "old.json")
	if err := os.WriteFile(oldDoc, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().AddDate(0, 0, -130)
	if err := os.Chtimes(oldDoc, stale, stale); err != nil {
		t.Fatal(err)
	}
	freshDoc := filepath.Join(s.uploadedDir, "fresh.json")
	if err := os.WriteFile(freshDoc, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	s.PruneRetention()

	if _, err := os.Stat(oldDoc); !os.IsNotExist(err) {
		t.Error("stale document survived retention")
	}
	if _, err := os.Stat(freshDoc); err != nil {
		t.Error("fresh document was removed")
	}
}
