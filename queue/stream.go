// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// streamConn manages one server-streamed connection to the admission
// queue for a (concert, participant) pair, including the reconnect
// policy. Inbound events are handed to the owning client synchronously,
// in arrival order; the single run goroutine guarantees no reordering.
type streamConn struct {
	dial      DialFunc
	concertSE int64
	userSE    int64

	onEvent  func(Event)
	onStatus func(status Status, reconnectAttempts int)

	delay       time.Duration
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	src    EventSource

	done chan struct{}
}

func newStreamConn(opts *Options, concertSE, userSE int64, onEvent func(Event), onStatus func(Status, int)) *streamConn {
	return &streamConn{
		dial:        opts.Dial,
		concertSE:   concertSE,
		userSE:      userSE,
		onEvent:     onEvent,
		onStatus:    onStatus,
		delay:       opts.ReconnectDelay,
		maxAttempts: opts.MaxReconnectAttempts,
		logger:      opts.Logger,
		done:        make(chan struct{}),
	}
}

// start launches the connection loop.
func (s *streamConn) start(ctx context.Context) {
	go s.run(ctx)
}

// run owns the connect/read/reconnect cycle. attempts counts consecutive
// stream failures since the last successful connection; reaching the
// bound transitions to the terminal Closed status and stops retrying.
func (s *streamConn) run(ctx context.Context) {
	attempts := 0

	for {
		if s.isClosed() {
			return
		}
		s.setStatus(StatusConnecting, attempts)

		connected, err := s.connectAndRead(ctx)
		if s.isClosed() || ctx.Err() != nil {
			return
		}
		if connected {
			attempts = 0
		}

		attempts++
		s.logger.Warn("admission stream error",
			"concert_se", s.concertSE,
			"attempt", attempts,
			"error", err)
		s.setStatus(StatusError, attempts)

		if attempts >= s.maxAttempts {
			// Unrecoverable: the caller must restart the whole join.
			s.logger.Error("admission stream closed after repeated failures",
				"concert_se", s.concertSE,
				"attempts", attempts)
			s.setStatus(StatusClosed, attempts)
			return
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndRead opens a fresh transport and pumps it until it fails.
// A previous transport is never resumed: the server issues a new
// rank/total snapshot per open. The first return reports whether the
// stream delivered at least one event, which resets the caller's attempt
// counter; a connection that dies before its first event still counts as
// a failed attempt, so a flapping stream cannot reconnect forever.
func (s *streamConn) connectAndRead(ctx context.Context) (bool, error) {
	src, err := s.dial(ctx, s.concertSE, s.userSE)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		src.Close()
		return false, nil
	}
	s.src = src
	s.mu.Unlock()

	s.setStatus(StatusConnected, 0)

	healthy := false
	for {
		ev, err := src.Next()
		if err != nil {
			s.dropSource(src)
			return healthy, err
		}
		if s.isClosed() {
			return healthy, nil
		}
		healthy = true
		s.onEvent(ev)
	}
}

func (s *streamConn) dropSource(src EventSource) {
	s.mu.Lock()
	if s.src == src {
		s.src = nil
	}
	s.mu.Unlock()
	src.Close()
}

// close is idempotent and safe from any state. It releases the transport,
// unblocking a pending Next, and cancels any scheduled reconnect.
func (s *streamConn) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	src := s.src
	s.src = nil
	s.mu.Unlock()

	close(s.done)
	if src != nil {
		src.Close()
	}
}

func (s *streamConn) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// setStatus reports a status change unless the connection was disposed;
// the guard keeps a late timer or read from re-entering closed state.
func (s *streamConn) setStatus(status Status, attempts int) {
	if s.isClosed() {
		return
	}
	s.onStatus(status, attempts)
}
