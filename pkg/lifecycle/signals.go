// Package lifecycle provides process-wide pause/shutdown signal handling,
// adding a pause/resume toggle via SIGUSR1 alongside graceful SIGTERM/
// SIGINT shutdown.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Signals is the process-wide pause/shutdown flag set shared by every
// producer, worker, and webhook goroutine.
type Signals struct {
	paused   atomic.Bool
	stopCh   chan struct{}
	stopOnce func()
}

// NewSignals installs OS signal handlers and returns a ready-to-use Signals.
// SIGUSR1 toggles pause/resume; SIGTERM/SIGINT request shutdown by closing
// StopCh exactly once.
func NewSignals() *Signals {
	s := &Signals{stopCh: make(chan struct{})}

	pauseCh := make(chan os.Signal, 1)
	signal.Notify(pauseCh, syscall.SIGUSR1)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGTERM, syscall.SIGINT)

	var closeOnce sync.Once
	s.stopOnce = func() { closeOnce.Do(func() { close(s.stopCh) }) }

	go func() {
		for range pauseCh {
			s.paused.Store(!s.paused.Load())
		}
	}()
	go func() {
		<-shutdownCh
		s.stopOnce()
	}()

	return s
}

// Paused reports whether the process is currently pause-requested.
func (s *Signals) Paused() bool { return s.paused.Load() }

// StopCh closes exactly once when shutdown is requested (SIGTERM/SIGINT, or
// Stop called directly — e.g. from tests).
func (s *Signals) StopCh() <-chan struct{} { return s.stopCh }

// Stop requests shutdown programmatically, idempotently.
func (s *Signals) Stop() { s.stopOnce() }

// ShouldSuspend reports whether a worker/producer at a well-defined
// suspension point should stop making progress: either a shutdown was
// requested, or a pause is in effect.
func (s *Signals) ShouldSuspend() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return s.paused.Load()
	}
}

// Stopped reports whether shutdown has been requested.
func (s *Signals) Stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
