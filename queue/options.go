// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"log/slog"
	"time"
)

// Default values.
const (
	DefaultReconnectDelay       = 2 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultGraceDelay           = 2 * time.Second
	DefaultDequeueRatePerMinute = 30
)

// Options configures a queue client.
type Options struct {
	// Handshake and transport.
	Enqueuer Enqueuer // Enqueue handshake (required)
	Dial     DialFunc // Stream transport dialer (required)

	// Reconnection. Every stream error schedules a reconnect after a
	// fixed delay until MaxReconnectAttempts is reached; the connection
	// then transitions to the terminal Closed status and the caller must
	// restart the join from scratch.
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Admission. GraceDelay is applied after detecting admission before
	// the admitted signal fires, to let any trailing update settle.
	GraceDelay time.Duration

	// DequeueRatePerMinute feeds the advisory wait estimate. It is pure
	// display decoration and never gates admission.
	DequeueRatePerMinute int

	// Callbacks.
	OnStateChange func(State) // Called after every state mutation

	Logger *slog.Logger
}

// NewOptions creates Options with sensible defaults. Enqueuer and Dial
// must still be set before use.
func NewOptions() *Options {
	return &Options{
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		GraceDelay:           DefaultGraceDelay,
		DequeueRatePerMinute: DefaultDequeueRatePerMinute,
	}
}

// SetEnqueuer sets the enqueue handshake implementation.
func (o *Options) SetEnqueuer(e Enqueuer) *Options {
	o.Enqueuer = e
	return o
}

// SetDial sets the stream transport dialer.
func (o *Options) SetDial(d DialFunc) *Options {
	o.Dial = d
	return o
}

// SetReconnectDelay sets the fixed delay between reconnect attempts.
func (o *Options) SetReconnectDelay(d time.Duration) *Options {
	o.ReconnectDelay = d
	return o
}

// SetMaxReconnectAttempts sets the reconnect bound.
func (o *Options) SetMaxReconnectAttempts(n int) *Options {
	o.MaxReconnectAttempts = n
	return o
}

// SetGraceDelay sets the post-admission settle delay.
func (o *Options) SetGraceDelay(d time.Duration) *Options {
	o.GraceDelay = d
	return o
}

// SetDequeueRatePerMinute sets the advisory dequeue rate.
func (o *Options) SetDequeueRatePerMinute(n int) *Options {
	o.DequeueRatePerMinute = n
	return o
}

// SetOnStateChange sets the state change callback.
func (o *Options) SetOnStateChange(fn func(State)) *Options {
	o.OnStateChange = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// Validate checks the options for errors and fills unset values with
// defaults.
func (o *Options) Validate() error {
	if o.Enqueuer == nil {
		return ErrNilEnqueuer
	}
	if o.Dial == nil {
		return ErrNilDialer
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.GraceDelay < 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	if o.DequeueRatePerMinute <= 0 {
		o.DequeueRatePerMinute = DefaultDequeueRatePerMinute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}
