// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import "errors"

// Queue client errors.
var (
	// Configuration errors.
	ErrNilOptions  = errors.New("options cannot be nil")
	ErrNilEnqueuer = errors.New("enqueuer cannot be nil")
	ErrNilDialer   = errors.New("stream dialer cannot be nil")

	// Join errors. Enqueue failure is request-fatal: it is reported to
	// the caller and never retried automatically.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// Lifecycle errors.
	ErrClientClosed = errors.New("queue client has been closed")
)
