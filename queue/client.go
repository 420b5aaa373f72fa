// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the client side of the virtual admission
// queue: the enqueue handshake, the server-streamed rank connection with
// bounded reconnection, and the one-shot admitted signal.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Client is one participant's view of the admission queue for a single
// join. It is safe for concurrent use.
type Client struct {
	opts      *Options
	concertSE int64
	userSE    int64

	mu    sync.Mutex
	state State
	conn  *streamConn

	phase      phaseManager
	admitted   chan struct{}
	graceTimer *time.Timer
	closed     bool
}

// Join enqueues the participant and opens the admission stream. The
// enqueue call fails fast: its error is returned to the caller and never
// retried here. Stream errors after a successful join are handled by the
// connection's own reconnect policy and surface only through State.
func Join(ctx context.Context, opts *Options, concertSE, userSE int64) (*Client, error) {
	if opts == nil {
		return nil, ErrNilOptions
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rank, total, err := opts.Enqueuer.Enqueue(ctx, concertSE, userSE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	c := &Client{
		opts:      opts,
		concertSE: concertSE,
		userSE:    userSE,
		admitted:  make(chan struct{}),
		state: State{
			Rank:   rank,
			Total:  total,
			Known:  true,
			Status: StatusConnecting,
		},
	}

	opts.Logger.Info("joined admission queue",
		"concert_se", concertSE,
		"user_se", userSE,
		"rank", rank,
		"total", total)

	c.checkAdmission(rank)

	c.conn = newStreamConn(opts, concertSE, userSE, c.handleEvent, c.handleStatus)
	c.conn.start(ctx)

	return c, nil
}

// State returns a copy of the current queue state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Admitted returns a channel closed exactly once when the participant is
// admitted: rank reached 1, or the server reported the sentinel rank
// meaning the participant was already processed. The signal fires after
// the configured grace delay so a trailing update can settle.
func (c *Client) Admitted() <-chan struct{} {
	return c.admitted
}

// EstimatedWait returns the advisory wait estimate derived from the
// current rank and the configured dequeue rate, clamped to a minimum of
// one minute while still queued. It is display decoration only and never
// gates admission.
func (c *Client) EstimatedWait() time.Duration {
	s := c.State()
	if !s.Known || s.Rank <= 0 {
		return 0
	}
	minutes := (s.Rank + c.opts.DequeueRatePerMinute - 1) / c.opts.DequeueRatePerMinute
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Close tears down the join: it stops event delivery, releases the
// transport and cancels any scheduled reconnect or grace timer. Close is
// idempotent. A join closed before admission never signals admitted.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state.Status = StatusClosed
	timer := c.graceTimer
	c.graceTimer = nil
	conn := c.conn
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if conn != nil {
		conn.close()
	}
}

// handleEvent applies one stream event. Events arrive on a single
// goroutine in arrival order, so each mutation is applied atomically
// before the next event is processed.
func (c *Client) handleEvent(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.Rank = ev.Rank
	c.state.Total = ev.Total
	c.state.Known = true
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
	c.checkAdmission(ev.Rank)
}

func (c *Client) handleStatus(status Status, reconnectAttempts int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state.Status = status
	c.state.ReconnectAttempts = reconnectAttempts
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

func (c *Client) notify(s State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// checkAdmission fires the one-shot admitted signal at most once per
// join. Repeated rank==1 updates lose the phase transition race against
// the first one and are ignored.
func (c *Client) checkAdmission(rank int) {
	if rank != 1 && rank != RankProcessed {
		return
	}
	if !c.phase.transition(phaseWaiting, phaseAdmitting) {
		return
	}

	c.opts.Logger.Info("admission detected",
		"concert_se", c.concertSE,
		"rank", rank,
		"grace", c.opts.GraceDelay)

	if c.opts.GraceDelay == 0 {
		c.fireAdmitted()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.graceTimer = time.AfterFunc(c.opts.GraceDelay, c.fireAdmitted)
	c.mu.Unlock()
}

func (c *Client) fireAdmitted() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.phase.transition(phaseAdmitting, phaseAdmitted) {
		close(c.admitted)
	}
}
