package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
)

// Subscriber is the consumer side of the event bus.
type Subscriber interface {
	Subscribe(h events.Handler, types ...events.Type) (unsubscribe func())
}

// debouncer runs fn once after delay has passed without another Trigger.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu      gosync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// Trigger restarts the quiet window.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop cancels a scheduled run. Later triggers are ignored.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// StartObserver runs a cycle after local edits reported on bus have settled.
// A previous observer is stopped first.
func (s *Syncer) StartObserver(ctx context.Context, bus Subscriber) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.stopObserverLocked()

	var d *debouncer
	d = newDebouncer(s.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunCycle(ctx); err != nil {
			if errors.Is(err, vserrors.ErrSyncInProgress) {
				d.Trigger()
				return
			}
			s.logger.Warn("Sync after local edit failed: %v", err)
		}
	})
	s.debouncer = d
	s.unsubscribe = bus.Subscribe(func(events.Event) {
		d.Trigger()
	}, events.ServicesUpdated, events.SectionsUpdated)
}

// StopObserver removes the observer and cancels a scheduled cycle.
func (s *Syncer) StopObserver() {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.stopObserverLocked()
}

func (s *Syncer) stopObserverLocked() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.debouncer != nil {
		s.debouncer.Stop()
		s.debouncer = nil
	}
}
