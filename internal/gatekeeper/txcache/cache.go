// Package txcache is the durable local transaction log.
//
// The backing file is a JSON array rewritten atomically on every
// mutation; it is the system's source of truth for "has this event been
// seen", independent of network state.  Syncing never deletes records,
// it only flips their synced flag, so the file doubles as the
// offline-readable transaction history.  Only age-based retention
// pruning removes entries.
package txcache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

// Cache owns the transaction file and the parallel daily-stats file.
type Cache struct {
	path      string
	statsPath string

	mu      sync.Mutex // serializes read-modify-write cycles on path
	statsMu sync.Mutex // same, for statsPath

	now func() time.Time // test hook
}

func New(path, statsPath string) *Cache {
	return &Cache{path: path, statsPath: statsPath, now: time.Now}
}

// Append adds one transaction to the log.
func (c *Cache) Append(tx types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txns, err := c.readLocked()
	if err != nil {
		return err
	}
	txns = append(txns, tx)
	return jsonfile.Write(c.path, txns)
}

// MarkSynced flips the synced flag for the transaction with the given
// ID.  Unknown IDs are a no-op: the record may already have been pruned
// by retention.
func (c *Cache) MarkSynced(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txns, err := c.readLocked()
	if err != nil {
		return err
	}
	for i := range txns {
		if txns[i].ID == id {
			if txns[i].Synced {
				return nil
			}
			txns[i].Synced = true
			return jsonfile.Write(c.path, txns)
		}
	}
	return nil
}

// Unsynced returns the records still awaiting upload, oldest first.
func (c *Cache) Unsynced() ([]types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txns, err := c.readLocked()
	if err != nil {
		return nil, err
	}
	var out []types.Transaction
	for _, tx := range txns {
		if !tx.Synced {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// Recent returns up to n transactions, newest first.
func (c *Cache) Recent(n int) ([]types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txns, err := c.readLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].Timestamp > txns[j].Timestamp })
	if n > 0 && len(txns) > n {
		txns = txns[:n]
	}
	return txns, nil
}

// Count reports how many transactions the log holds.
func (c *Cache) Count() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txns, err := c.readLocked()
	return len(txns), err
}

// PruneOlderThan drops records older than the cutoff regardless of
// their sync state and returns how many were removed.
func (c *Cache) PruneOlderThan(cutoff time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	txns, err := c.readLocked()
	if err != nil {
		return 0, err
	}
	kept := txns[:0]
	for _, tx := range txns {
		if tx.Timestamp >= cutoff.Unix() {
			kept = append(kept, tx)
		}
	}
	removed := len(txns) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := jsonfile.Write(c.path, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (c *Cache) readLocked() ([]types.Transaction, error) {
	var txns []types.Transaction
	if _, err := jsonfile.Read(c.path, &txns); err != nil {
		return nil, fmt.Errorf("transaction cache: %w", err)
	}
	return txns, nil
}
