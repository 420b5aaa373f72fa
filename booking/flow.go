// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package booking orchestrates the post-admission purchase flow: it
// books the selected seats one by one, records the resulting pending
// commit, announces the completed booking, and leaves a session marker
// for the confirmation view.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/gaterush/bus"
	"github.com/absmach/gaterush/overlay"
	"github.com/absmach/gaterush/rest"
	"github.com/absmach/gaterush/session"
)

// ErrNoSeats indicates an empty seat selection.
var ErrNoSeats = errors.New("no seats selected")

// Booker books a single seat against the authoritative backend.
type Booker interface {
	BookSeat(ctx context.Context, userSE, concertSE int64, seatNumber string) (rest.Booking, error)
}

// Refresher requests an immediate inventory refresh.
type Refresher interface {
	RefreshNow()
}

// PartialError reports a booking run that stopped mid-selection. Seats
// in Booked were confirmed by the backend before the failure; Remaining
// were never attempted and stay selectable.
type PartialError struct {
	FailedSeat string
	Booked     []string
	Remaining  []string
	Err        error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("booking seat %s failed after %d booked: %v", e.FailedSeat, len(e.Booked), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

// Flow wires the purchase sequence together.
type Flow struct {
	booker    Booker
	overlay   *overlay.Overlay
	bus       *bus.Bus
	mailbox   session.Mailbox
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
}

func New(booker Booker, ov *overlay.Overlay, b *bus.Bus, mb session.Mailbox, refresher Refresher, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		booker:    booker,
		overlay:   ov,
		bus:       b,
		mailbox:   mb,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// Book purchases the selected seats sequentially. On full success it
// records a pending commit for read-your-writes availability, publishes
// booking.completed, stores the session marker, and requests an
// immediate inventory refresh. On a per-seat failure it stops, records
// the confirmed prefix, and returns a *PartialError carrying the seats
// that remain selectable.
func (f *Flow) Book(ctx context.Context, userSE, concertSE int64, seatNumbers []string) error {
	if len(seatNumbers) == 0 {
		return ErrNoSeats
	}

	booked := make([]string, 0, len(seatNumbers))
	for i, seat := range seatNumbers {
		if _, err := f.booker.BookSeat(ctx, userSE, concertSE, seat); err != nil {
			f.logger.Warn("seat booking failed",
				"concert_se", concertSE,
				"seat", seat,
				"booked_so_far", len(booked),
				"error", err)
			f.settle(concertSE, booked)
			return &PartialError{
				FailedSeat: seat,
				Booked:     booked,
				Remaining:  seatNumbers[i+1:],
				Err:        err,
			}
		}
		booked = append(booked, seat)
	}

	f.settle(concertSE, booked)
	f.bus.Publish(bus.TopicBookingCompleted, bus.BookingCompleted{
		ConcertSE:   concertSE,
		SeatNumbers: booked,
	})
	if f.mailbox != nil {
		marker := session.Marker{
			ConcertID:   concertSE,
			BookedSeats: booked,
			Timestamp:   f.now(),
		}
		if err := f.mailbox.Put(ctx, session.DefaultKey, marker); err != nil {
			f.logger.Warn("session marker store failed",
				"concert_se", concertSE,
				"error", err)
		}
	}

	f.logger.Info("booking completed",
		"concert_se", concertSE,
		"seats", booked)
	return nil
}

// settle records confirmed seats as a pending commit and nudges the
// supervisor. Seats booked before a mid-run failure are committed
// server-side, so they count toward the overlay too.
func (f *Flow) settle(concertSE int64, booked []string) {
	if len(booked) == 0 {
		return
	}
	f.overlay.Record(concertSE, booked)
	if f.refresher != nil {
		f.refresher.RefreshNow()
	}
}
