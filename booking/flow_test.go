// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/absmach/gaterush/bus"
	"github.com/absmach/gaterush/overlay"
	"github.com/absmach/gaterush/rest"
	"github.com/absmach/gaterush/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBooker struct {
	mu     sync.Mutex
	calls  []string
	failOn string
	err    error
}

func (b *fakeBooker) BookSeat(_ context.Context, userSE, concertSE int64, seat string) (rest.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, seat)
	if seat == b.failOn {
		return rest.Booking{}, b.err
	}
	return rest.Booking{UserSE: userSE, ConcertSE: concertSE, SeatNumber: seat}, nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRefresher) RefreshNow() {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func (r *fakeRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newFlow(b Booker, ov *overlay.Overlay, nb *bus.Bus, mb session.Mailbox, r Refresher) *Flow {
	return New(b, ov, nb, mb, r, quietLogger())
}

func TestBookAllSeatsSucceeds(t *testing.T) {
	booker := &fakeBooker{}
	ov := overlay.New(0)
	nb := bus.New(quietLogger())
	mb := session.NewMemory()
	ref := &fakeRefresher{}

	var completed []bus.BookingCompleted
	nb.Subscribe(bus.TopicBookingCompleted, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.BookingCompleted); ok {
			completed = append(completed, p)
		}
	})

	flow := newFlow(booker, ov, nb, mb, ref)
	err := flow.Book(context.Background(), 42, 7, []string{"A1", "A2", "A3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A1", "A2", "A3"}, booker.calls)
	assert.Equal(t, 3, ov.Adjustment(7))
	assert.Equal(t, 1, ref.count())

	require.Len(t, completed, 1)
	assert.Equal(t, int64(7), completed[0].ConcertSE)
	assert.Equal(t, []string{"A1", "A2", "A3"}, completed[0].SeatNumbers)

	marker, ok, err := mb.TakeAndClear(context.Background(), session.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), marker.ConcertID)
	assert.Equal(t, []string{"A1", "A2", "A3"}, marker.BookedSeats)
	assert.False(t, marker.Timestamp.IsZero())
}

func TestBookStopsOnFirstFailure(t *testing.T) {
	cause := errors.New("seat already booked")
	booker := &fakeBooker{failOn: "A2", err: cause}
	ov := overlay.New(0)
	nb := bus.New(quietLogger())
	mb := session.NewMemory()
	ref := &fakeRefresher{}

	published := 0
	nb.Subscribe(bus.TopicBookingCompleted, func(bus.Event) { published++ })

	flow := newFlow(booker, ov, nb, mb, ref)
	err := flow.Book(context.Background(), 42, 7, []string{"A1", "A2", "A3"})

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "A2", partial.FailedSeat)
	assert.Equal(t, []string{"A1"}, partial.Booked)
	assert.Equal(t, []string{"A3"}, partial.Remaining)
	assert.ErrorIs(t, err, cause)

	// A1 was confirmed server-side before the failure.
	assert.Equal(t, []string{"A1", "A2"}, booker.calls)
	assert.Equal(t, 1, ov.Adjustment(7))
	assert.Equal(t, 1, ref.count())

	// No completion announcement, no session marker.
	assert.Zero(t, published)
	_, ok, err := mb.TakeAndClear(context.Background(), session.DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBookFailureOnFirstSeatLeavesNoCommit(t *testing.T) {
	cause := errors.New("seat already booked")
	booker := &fakeBooker{failOn: "A1", err: cause}
	ov := overlay.New(0)
	ref := &fakeRefresher{}

	flow := newFlow(booker, ov, bus.New(quietLogger()), session.NewMemory(), ref)
	err := flow.Book(context.Background(), 42, 7, []string{"A1", "A2"})

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Empty(t, partial.Booked)
	assert.Equal(t, []string{"A2"}, partial.Remaining)
	assert.Zero(t, ov.Adjustment(7))
	assert.Zero(t, ref.count(), "nothing booked, nothing to refresh")
}

func TestBookEmptySelection(t *testing.T) {
	flow := newFlow(&fakeBooker{}, overlay.New(0), bus.New(quietLogger()), session.NewMemory(), &fakeRefresher{})
	assert.ErrorIs(t, flow.Book(context.Background(), 42, 7, nil), ErrNoSeats)
}

func TestBookWithoutMailboxOrRefresher(t *testing.T) {
	booker := &fakeBooker{}
	flow := New(booker, overlay.New(0), bus.New(quietLogger()), nil, nil, quietLogger())
	require.NoError(t, flow.Book(context.Background(), 42, 7, []string{"B5"}))
	assert.Equal(t, []string{"B5"}, booker.calls)
}
