package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// withClock replaces the limiter's clock with a controllable one.
func withClock(l *Limiter) *time.Time {
	t := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return t }
	return &t
}

func TestFirstPresentationPasses(t *testing.T) {
	l := New(60 * time.Second)
	withClock(l)

	if !l.ShouldProcess(5001) {
		t.Fatal("first presentation should pass")
	}
}

func TestDuplicateWithinCooldownIsDropped(t *testing.T) {
	l := New(60 * time.Second)
	clock := withClock(l)

	if !l.ShouldProcess(5001) {
		t.Fatal("first presentation should pass")
	}

	*clock = clock.Add(10 * time.Second)
	if l.ShouldProcess(5001) {
		t.Error("presentation 10s into a 60s cooldown should be dropped")
	}

	*clock = clock.Add(49 * time.Second) // 59s total
	if l.ShouldProcess(5001) {
		t.Error("presentation at 59s should still be dropped")
	}

	*clock = clock.Add(2 * time.Second) // 61s total
	if !l.ShouldProcess(5001) {
		t.Error("presentation after the window should pass")
	}
}

func TestIndependentCredentials(t *testing.T) {
	l := New(60 * time.Second)
	withClock(l)

	if !l.ShouldProcess(5001) || !l.ShouldProcess(5002) {
		t.Error("distinct credentials must not share a cooldown")
	}
}

func TestAtMostOnePassPerWindowUnderConcurrency(t *testing.T) {
	l := New(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.ShouldProcess(777) {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if passed != 1 {
		t.Errorf("expected exactly 1 pass, got %d", passed)
	}
}

func TestSetCooldownTakesEffectImmediately(t *testing.T) {
	l := New(60 * time.Second)
	clock := withClock(l)

	l.ShouldProcess(5001)
	l.SetCooldown(5 * time.Second)

	*clock = clock.Add(6 * time.Second)
	if !l.ShouldProcess(5001) {
		t.Error("shortened cooldown should apply to the next lookup")
	}
	if l.Cooldown() != 5*time.Second {
		t.Errorf("Cooldown() = %v, want 5s", l.Cooldown())
	}
}
