package worker

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestStopCancelsAndWaits(t *testing.T) {
	s := NewSupervisor(silentLogger())

	var exited atomic.Bool
	s.Go("sleeper", func(ctx context.Context) {
		<-ctx.Done()
		exited.Store(true)
	})

	s.Stop()
	if !exited.Load() {
		t.Error("Stop returned before the worker exited")
	}
}

func TestPanickedWorkerRestarts(t *testing.T) {
	s := NewSupervisor(silentLogger())
	s.restartDelay = 5 * time.Millisecond

	var runs atomic.Int32
	started := make(chan struct{}, 4)
	s.Go("flaky", func(ctx context.Context) {
		n := runs.Add(1)
		started <- struct{}{}
		if n == 1 {
			panic("transient fault")
		}
		<-ctx.Done()
	})

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker did not reach run %d", i+1)
		}
	}
	s.Stop()
	if runs.Load() != 2 {
		t.Errorf("runs = %d, want 2", runs.Load())
	}
}

func TestCleanReturnStaysDown(t *testing.T) {
	s := NewSupervisor(silentLogger())
	s.restartDelay = time.Millisecond

	var runs atomic.Int32
	s.Go("oneshot", func(ctx context.Context) { runs.Add(1) })

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1 (no restart after clean return)", runs.Load())
	}
}
