// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bus provides an in-process publish/subscribe channel that
// decouples producers of booking state changes from their consumers.
// Delivery is synchronous and in subscription order; there is no
// persistence or replay.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic constants.
const (
	TopicBookingCompleted = "booking.completed"
	TopicInventoryChanged = "inventory.changed"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     string
	EventID   string
	Timestamp time.Time
	Payload   any
}

// BookingCompleted is published after a booking flow commits locally.
type BookingCompleted struct {
	ConcertSE   int64
	SeatNumbers []string
}

// InventoryChanged is published when the authoritative booked-seat count
// moved between two reconciliation ticks.
type InventoryChanged struct {
	ConcertSE int64
	Booked    int
	Available int
	Adjusted  int
}

// Handler receives published events on the publisher's goroutine.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process notification bus.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	nextID uint64
	logger *slog.Logger
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for a topic and returns an unsubscribe
// function. Unsubscribing twice is a no-op. A subscriber attached after a
// publish never sees that event.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h}
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[topic] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the payload to every current subscriber of the topic,
// in subscription order, on the caller's goroutine. A panicking handler is
// logged and does not prevent delivery to subsequent handlers.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{
		Topic:     topic,
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	// Snapshot the subscriber list so handlers may subscribe or
	// unsubscribe during delivery without affecting this publish.
	b.mu.Lock()
	list := append([]*subscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range list {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked",
				"topic", ev.Topic,
				"event_id", ev.EventID,
				"panic", r)
		}
	}()
	sub.handler(ev)
}
