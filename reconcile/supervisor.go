// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package reconcile drives the bounded-frequency polling loop that keeps
// the local availability view converging toward the authoritative
// inventory.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/gaterush/bus"
	"github.com/absmach/gaterush/overlay"
)

// Default values.
const (
	DefaultInterval = 5 * time.Second
	DefaultBackoff  = 10 * time.Second
)

// Supervisor errors.
var (
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// Fetcher returns an authoritative inventory snapshot.
type Fetcher interface {
	Snapshot(ctx context.Context, concertSE int64) (overlay.Snapshot, error)
}

// Config configures a supervisor.
type Config struct {
	ConcertSE int64

	// Interval is the normal polling cadence while running.
	Interval time.Duration

	// Backoff replaces the next wait after an observed inventory change,
	// to avoid a polling storm right after a burst of writes.
	Backoff time.Duration
}

// Supervisor periodically fetches the authoritative inventory, feeds it
// to the overlay and publishes inventory changes on the bus. It is a
// supervised task with explicit Start/Stop/Suspend/Resume, so the core
// stays testable without a windowing environment.
type Supervisor struct {
	cfg     Config
	fetch   Fetcher
	overlay *overlay.Overlay
	bus     *bus.Bus
	logger  *slog.Logger

	refreshCh chan struct{}
	suspendCh chan struct{}
	resumeCh  chan struct{}

	mu         sync.Mutex
	running    bool
	suspended  bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastBooked int
	haveLast   bool
	lastSnap   overlay.Snapshot
	haveSnap   bool
	diverged   bool
}

// New creates a supervisor. Zero durations select the defaults.
func New(cfg Config, fetch Fetcher, ov *overlay.Overlay, b *bus.Bus, logger *slog.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:       cfg,
		fetch:     fetch,
		overlay:   ov,
		bus:       b,
		logger:    logger,
		refreshCh: make(chan struct{}, 1),
		suspendCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
	}
}

// Start launches the polling loop with an immediate first fetch.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.suspended = false
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// supervisor is a no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Suspend halts polling entirely, e.g. when the host view loses focus.
func (s *Supervisor) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.suspended {
		return
	}
	s.suspended = true
	signal(s.suspendCh)
}

// Resume restarts polling and re-fetches immediately.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || !s.suspended {
		return
	}
	s.suspended = false
	signal(s.resumeCh)
}

// RefreshNow requests an immediate fetch independent of the tick
// schedule, e.g. right after a local booking completes. While suspended
// the request is held until the supervisor resumes.
func (s *Supervisor) RefreshNow() {
	signal(s.refreshCh)
}

// Diverged reports whether any pending commit expired unconfirmed. The
// flag is diagnostic only; the booking itself succeeded server-side.
func (s *Supervisor) Diverged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diverged
}

// Availability returns the reconciled availability derived from the last
// snapshot and the live overlay adjustment. The second value is false
// before the first successful fetch.
func (s *Supervisor) Availability() (int, bool) {
	s.mu.Lock()
	snap := s.lastSnap
	have := s.haveSnap
	s.mu.Unlock()

	if !have {
		return 0, false
	}
	return overlay.Availability(snap, s.overlay.Adjustment(s.cfg.ConcertSE)), true
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.suspendCh:
			stopTimer(timer)
			select {
			case <-ctx.Done():
				return
			case <-s.resumeCh:
				// Re-fetch immediately upon resume.
				timer.Reset(0)
			}
			continue
		case <-s.refreshCh:
			stopTimer(timer)
		case <-timer.C:
		}

		if s.tick(ctx) {
			timer.Reset(s.cfg.Backoff)
		} else {
			timer.Reset(s.cfg.Interval)
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// tick performs one fetch-and-reconcile pass. It returns true when the
// authoritative booked count changed, which selects the backoff wait.
// Fetch failures are reconciliation-soft: logged, never escalated.
func (s *Supervisor) tick(ctx context.Context) bool {
	snap, err := s.fetch.Snapshot(ctx, s.cfg.ConcertSE)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("inventory fetch failed",
				"concert_se", s.cfg.ConcertSE,
				"error", err)
		}
		return false
	}

	res := s.overlay.Reconcile(snap)
	for _, c := range res.Expired {
		s.logger.Warn("pending commit expired without authoritative confirmation",
			"concert_se", c.ConcertSE,
			"seats", c.SeatNumbers,
			"age", time.Since(c.CreatedAt))
	}

	booked := snap.BookedCount()

	s.mu.Lock()
	changed := s.haveLast && booked != s.lastBooked
	first := !s.haveLast
	s.lastBooked = booked
	s.haveLast = true
	s.lastSnap = snap
	s.haveSnap = true
	if len(res.Expired) > 0 {
		s.diverged = true
	}
	s.mu.Unlock()

	if first {
		// The first fetch establishes the baseline; nothing changed yet.
		return false
	}
	if changed {
		adj := s.overlay.Adjustment(s.cfg.ConcertSE)
		s.bus.Publish(bus.TopicInventoryChanged, bus.InventoryChanged{
			ConcertSE: s.cfg.ConcertSE,
			Booked:    booked,
			Available: overlay.Availability(snap, adj),
			Adjusted:  adj,
		})
	}
	return changed
}
