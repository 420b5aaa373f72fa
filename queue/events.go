// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"time"
)

// EventKind identifies a stream event.
type EventKind int

// Stream event kinds.
const (
	KindSnapshot EventKind = iota
	KindUpdate
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Event is one rank notification from the admission queue stream.
type Event struct {
	Kind      EventKind
	Rank      int
	Total     int
	Timestamp time.Time
}

// EventSource is a single opened stream transport. Next blocks until an
// event arrives and returns an error on transport failure or after Close.
// Close is safe to call concurrently with Next and unblocks it.
type EventSource interface {
	Next() (Event, error)
	Close() error
}

// DialFunc opens a brand-new stream transport for the given concert and
// participant. Each reconnect dials again; transports are never resumed,
// since the server issues a fresh snapshot per open.
type DialFunc func(ctx context.Context, concertSE, userSE int64) (EventSource, error)

// Enqueuer performs the enqueue handshake against the admission queue
// service, returning the initial rank and total.
type Enqueuer interface {
	Enqueue(ctx context.Context, concertSE, userSE int64) (rank, total int, err error)
}
