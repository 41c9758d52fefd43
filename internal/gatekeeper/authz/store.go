// Package authz owns the local allow-list and block-list.
//
// The persisted mappings (card number -> user record, card number ->
// blocked flag) are the source of truth and are rewritten atomically on
// every mutation.  Decision-time lookups never touch them: each mutation
// rebuilds a derived integer set under its own lock, so IsAllowed and
// IsBlocked are O(1) and never wait behind a disk write.
package authz

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/maxpark/gatekeeper/internal/gatekeeper/types"
	"github.com/maxpark/gatekeeper/internal/jsonfile"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrCardNotNumeric = errors.New("card number must be numeric")
)

// Store is the thread-safe, disk-backed authorization store.
type Store struct {
	usersPath   string
	blockedPath string

	mu      sync.RWMutex // guards users, blocked and their files
	users   map[string]types.UserRecord
	blocked map[string]bool

	setMu      sync.RWMutex // guards the derived sets only
	allowedSet map[int64]struct{}
	blockedSet map[int64]struct{}
}

func NewStore(usersPath, blockedPath string) *Store {
	return &Store{
		usersPath:   usersPath,
		blockedPath: blockedPath,
		users:       make(map[string]types.UserRecord),
		blocked:     make(map[string]bool),
		allowedSet:  make(map[int64]struct{}),
		blockedSet:  make(map[int64]struct{}),
	}
}

// Load reads both mappings from disk and rebuilds the derived sets.
// Missing files leave the store empty; that is a normal first boot.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[string]types.UserRecord)
	if _, err := jsonfile.Read(s.usersPath, &users); err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	blocked := make(map[string]bool)
	if _, err := jsonfile.Read(s.blockedPath, &blocked); err != nil {
		return fmt.Errorf("load blocked: %w", err)
	}

	s.users = users
	s.blocked = blocked
	s.rebuildAllowedSet()
	s.rebuildBlockedSet()
	return nil
}

// Add inserts or replaces the record for its card number and persists.
func (s *Store) Add(rec types.UserRecord) error {
	if _, err := strconv.ParseInt(rec.CardNumber, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrCardNotNumeric, rec.CardNumber)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[rec.CardNumber] = rec
	if err := jsonfile.Write(s.usersPath, s.users); err != nil {
		return err
	}
	s.rebuildAllowedSet()
	return nil
}

// Delete removes the record for card and persists.
func (s *Store) Delete(card string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[card]; !ok {
		return ErrNotFound
	}
	delete(s.users, card)
	if err := jsonfile.Write(s.usersPath, s.users); err != nil {
		return err
	}
	s.rebuildAllowedSet()
	return nil
}

// Block marks card as blocked and persists.  A card needs no user
// record to be blocked.
func (s *Store) Block(card string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked[card] = true
	if err := jsonfile.Write(s.blockedPath, s.blocked); err != nil {
		return err
	}
	s.rebuildBlockedSet()
	return nil
}

// Unblock clears the blocked flag for card and persists.
func (s *Store) Unblock(card string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocked, card)
	if err := jsonfile.Write(s.blockedPath, s.blocked); err != nil {
		return err
	}
	s.rebuildBlockedSet()
	return nil
}

// IsAllowed reports whether card has a user record.
func (s *Store) IsAllowed(card int64) bool {
	s.setMu.RLock()
	defer s.setMu.RUnlock()
	_, ok := s.allowedSet[card]
	return ok
}

// IsBlocked reports whether card is on the block-list.
func (s *Store) IsBlocked(card int64) bool {
	s.setMu.RLock()
	defer s.setMu.RUnlock()
	_, ok := s.blockedSet[card]
	return ok
}

// Lookup returns the user record for a decoded credential.
func (s *Store) Lookup(card int64) (types.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[strconv.FormatInt(card, 10)]
	return rec, ok
}

// Users returns a copy of the persisted user mapping.
func (s *Store) Users() map[string]types.UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.UserRecord, len(s.users))
	for k, v := range s.users {
		out[k] = v
	}
	return out
}

// BlockedCards returns the cards currently flagged as blocked.
func (s *Store) BlockedCards() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blocked))
	for k, v := range s.blocked {
		if v {
			out = append(out, k)
		}
	}
	return out
}

// rebuildAllowedSet recomputes the derived set from the user mapping.
// Callers hold s.mu; the set swap happens under setMu so readers only
// ever see a complete set.  Card numbers that fail to parse cannot match
// a decoded credential and are skipped.
func (s *Store) rebuildAllowedSet() {
	next := make(map[int64]struct{}, len(s.users))
	for k := range s.users {
		if n, err := strconv.ParseInt(k, 10, 64); err == nil {
			next[n] = struct{}{}
		}
	}
	s.setMu.Lock()
	s.allowedSet = next
	s.setMu.Unlock()
}

func (s *Store) rebuildBlockedSet() {
	next := make(map[int64]struct{}, len(s.blocked))
	for k, v := range s.blocked {
		if !v {
			continue
		}
		if n, err := strconv.ParseInt(k, 10, 64); err == nil {
			next[n] = struct{}{}
		}
	}
	s.setMu.Lock()
	s.blockedSet = next
	s.setMu.Unlock()
}
