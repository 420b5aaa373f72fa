// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session provides the ephemeral key-value mailbox used to carry
// a "booking just completed" marker across a navigation boundary. The
// marker is at-most-once: TakeAndClear reads and deletes atomically so a
// consumer can never reprocess it.
package session

import (
	"context"
	"sync"
	"time"
)

// DefaultKey is the mailbox key for the booking-completed marker.
const DefaultKey = "bookingCompleted"

// Marker is the booking-completed payload.
type Marker struct {
	ConcertID   int64     `json:"concertId"`
	BookedSeats []string  `json:"bookedSeats"`
	Timestamp   time.Time `json:"timestamp"`
}

// Mailbox is an injectable session-scoped key-value store.
type Mailbox interface {
	// Put stores the marker under key, replacing any previous value.
	Put(ctx context.Context, key string, m Marker) error

	// TakeAndClear atomically reads and deletes the marker. The second
	// return value is false when no marker was present.
	TakeAndClear(ctx context.Context, key string) (Marker, bool, error)
}

// MemoryMailbox is the in-process implementation, scoped to the client's
// lifetime.
type MemoryMailbox struct {
	mu      sync.Mutex
	markers map[string]Marker
}

// NewMemory creates an empty in-process mailbox.
func NewMemory() *MemoryMailbox {
	return &MemoryMailbox{markers: make(map[string]Marker)}
}

// Put stores the marker.
func (m *MemoryMailbox) Put(_ context.Context, key string, marker Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[key] = marker
	return nil
}

// TakeAndClear reads and deletes the marker under one lock hold.
func (m *MemoryMailbox) TakeAndClear(_ context.Context, key string) (Marker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	marker, ok := m.markers[key]
	if ok {
		delete(m.markers, key)
	}
	return marker, ok, nil
}
