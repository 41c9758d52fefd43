package txcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "transactions.json"), filepath.Join(dir, "daily_stats.json"))
}

func sampleTx(id string, ts int64, synced bool) types.Transaction {
	return types.Transaction{
		ID:        id,
		Name:      "Test User",
		Card:      "5001",
		Reader:    1,
		Status:    types.StatusGranted,
		Timestamp: ts,
		Synced:    synced,
	}
}

func TestAppendAndRecent(t *testing.T) {
	c := newTestCache(t)

	for i, id := range []string{"a", "b", "c"} {
		if err := c.Append(sampleTx(id, int64(100+i), false)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}

	got, err := c.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d records", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("expected newest first [c b], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestMarkSyncedFlipsFlagOnly(t *testing.T) {
	c := newTestCache(t)

	if err := c.Append(sampleTx("keep", 100, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(sampleTx("flip", 101, false)); err != nil {
		t.Fatal(err)
	}

	if err := c.MarkSynced("flip"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	// Marking never deletes; the record stays with synced=true.
	n, err := c.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count = %d after MarkSynced, want 2", n)
	}

	pending, err := c.Unsynced()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "keep" {
		t.Errorf("Unsynced = %+v, want only keep", pending)
	}
}

func TestMarkSyncedUnknownIDIsNoop(t *testing.T) {
	c := newTestCache(t)
	if err := c.Append(sampleTx("a", 100, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkSynced("ghost"); err != nil {
		t.Fatalf("MarkSynced on unknown ID: %v", err)
	}
}

func TestUnsyncedOldestFirst(t *testing.T) {
	c := newTestCache(t)
	if err := c.Append(sampleTx("new", 200, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(sampleTx("old", 100, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(sampleTx("done", 50, true)); err != nil {
		t.Fatal(err)
	}

	pending, err := c.Unsynced()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].ID != "old" || pending[1].ID != "new" {
		t.Errorf("Unsynced order wrong: %+v", pending)
	}
}

func TestPruneOlderThan(t *testing.T) {
	c := newTestCache(t)
	cutoff := time.Unix(150, 0)

	if err := c.Append(sampleTx("stale-synced", 100, true)); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(sampleTx("stale-pending", 120, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.Append(sampleTx("fresh", 200, false)); err != nil {
		t.Fatal(err)
	}

	// Retention is age-based only; sync state does not shield a record.
	removed, err := c.PruneOlderThan(cutoff)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	got, err := c.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Errorf("surviving records: %+v", got)
	}
}

func TestCacheSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	txPath := filepath.Join(dir, "transactions.json")
	statsPath := filepath.Join(dir, "daily_stats.json")

	c := New(txPath, statsPath)
	if err := c.Append(sampleTx("persist", 100, false)); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkSynced("persist"); err != nil {
		t.Fatal(err)
	}

	reopened := New(txPath, statsPath)
	got, err := reopened.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Synced {
		t.Errorf("reloaded cache lost state: %+v", got)
	}
}
