// Package worker supervises the long-lived background goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Supervisor runs named workers until Stop.  A worker that panics is
// logged and restarted after a short delay; a worker that returns on
// its own stays down.
type Supervisor struct {
	logger       *logrus.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	restartDelay time.Duration
}

func NewSupervisor(logger *logrus.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		restartDelay: time.Second,
	}
}

// Go starts fn under supervision.  fn must honor ctx cancellation.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			done := s.runOnce(name, fn)
			if done {
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.restartDelay):
			}
			s.logger.WithField("worker", name).Warn("restarting worker")
		}
	}()
}

// runOnce reports true when fn finished without panicking.
func (s *Supervisor) runOnce(name string, fn func(ctx context.Context)) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("worker", name).Errorf("worker panicked: %v", r)
			done = false
		}
	}()
	fn(s.ctx)
	return true
}

// Stop cancels every worker and waits for them to exit.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}
