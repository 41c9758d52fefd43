// Package ratelimit suppresses duplicate processing of a credential that
// is presented repeatedly within a cooldown window (a card held against
// the reader, a tag read twice while the gate is open).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks the last accepted presentation per credential.
type Limiter struct {
	mu       sync.Mutex
	lastSeen map[int64]time.Time
	cooldown time.Duration

	now func() time.Time // test hook
}

func New(cooldown time.Duration) *Limiter {
	return &Limiter{
		lastSeen: make(map[int64]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// ShouldProcess reports whether the credential is outside its cooldown
// window, recording the presentation if so.  At most one true per window
// regardless of call frequency.
func (l *Limiter) ShouldProcess(card int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.lastSeen[card]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.lastSeen[card] = now
	return true
}

// SetCooldown changes the window.  Takes effect for the next lookup;
// safe to call concurrently with ShouldProcess.
func (l *Limiter) SetCooldown(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldown = d
}

// Cooldown returns the current window.
func (l *Limiter) Cooldown() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cooldown
}
