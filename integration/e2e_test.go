// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/absmach/gaterush/booking"
	"github.com/absmach/gaterush/bus"
	"github.com/absmach/gaterush/overlay"
	"github.com/absmach/gaterush/queue"
	"github.com/absmach/gaterush/reconcile"
	"github.com/absmach/gaterush/rest"
	"github.com/absmach/gaterush/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func testConcert(concertSE int64, seats ...string) rest.Concert {
	c := rest.Concert{
		ConcertSE:    concertSE,
		ConcertName:  "Arena Night",
		ConcertDate:  "2026-10-01",
		ConcertTime:  "20:00",
		ConcertPrice: 120,
		ConcertVenue: "North Arena",
	}
	for _, s := range seats {
		c.Seats = append(c.Seats, rest.SeatRecord{SeatNumber: s})
	}
	return c
}

func startBackend(t *testing.T) (*Backend, *rest.Client) {
	t.Helper()

	backend := NewBackend(quietLogger())
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	client, err := rest.New(srv.URL, 5*time.Second, quietLogger())
	require.NoError(t, err)
	return backend, client
}

func joinOptions(client *rest.Client) *queue.Options {
	return queue.NewOptions().
		SetEnqueuer(client).
		SetDial(client.DialStream).
		SetReconnectDelay(20 * time.Millisecond).
		SetGraceDelay(10 * time.Millisecond).
		SetLogger(quietLogger())
}

func TestQueueAdmissionOverSSE(t *testing.T) {
	backend, client := startBackend(t)
	backend.AddConcert(testConcert(7, "A1", "A2"))

	// Two participants ahead of ours.
	ctx := context.Background()
	_, _, err := client.Enqueue(ctx, 7, 101)
	require.NoError(t, err)
	_, _, err = client.Enqueue(ctx, 7, 102)
	require.NoError(t, err)

	qc, err := queue.Join(ctx, joinOptions(client), 7, 103)
	require.NoError(t, err)
	defer qc.Close()

	st := qc.State()
	assert.Equal(t, 3, st.Rank)
	assert.True(t, st.Known)

	// Let the stream attach before draining the queue.
	require.Eventually(t, func() bool {
		return qc.State().Status == queue.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	backend.Admit(7)
	require.Eventually(t, func() bool { return qc.State().Rank == 2 }, 2*time.Second, 5*time.Millisecond)

	backend.Admit(7)
	require.Eventually(t, func() bool { return qc.State().Rank == 1 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-qc.Admitted():
	case <-time.After(2 * time.Second):
		t.Fatal("admission signal never fired")
	}
}

func TestQueueAdmissionOverWebsocket(t *testing.T) {
	backend, client := startBackend(t)
	backend.AddConcert(testConcert(7, "A1"))

	ctx := context.Background()
	_, _, err := client.Enqueue(ctx, 7, 101)
	require.NoError(t, err)

	opts := joinOptions(client).SetDial(client.DialStreamWS)
	qc, err := queue.Join(ctx, opts, 7, 102)
	require.NoError(t, err)
	defer qc.Close()

	assert.Equal(t, 2, qc.State().Rank)

	require.Eventually(t, func() bool {
		return qc.State().Status == queue.StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	backend.Admit(7)
	backend.Admit(7)

	select {
	case <-qc.Admitted():
	case <-time.After(2 * time.Second):
		t.Fatal("admission signal never fired")
	}
}

func TestBookingFlowReconciles(t *testing.T) {
	backend, client := startBackend(t)
	backend.AddConcert(testConcert(7, "A1", "A2", "A3", "A4"))

	ov := overlay.New(0)
	nb := bus.New(quietLogger())
	mailbox := session.NewMemory()

	sup := reconcile.New(reconcile.Config{
		ConcertSE: 7,
		Interval:  20 * time.Millisecond,
		Backoff:   40 * time.Millisecond,
	}, client, ov, nb, quietLogger())
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	// Baseline snapshot before booking.
	require.Eventually(t, func() bool {
		_, ok := sup.Availability()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var changes []bus.InventoryChanged
	nb.Subscribe(bus.TopicInventoryChanged, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.InventoryChanged); ok {
			mu.Lock()
			changes = append(changes, p)
			mu.Unlock()
		}
	})
	changeCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(changes)
	}

	flow := booking.New(client, ov, nb, mailbox, sup, quietLogger())
	require.NoError(t, flow.Book(context.Background(), 42, 7, []string{"A1", "A2"}))

	assert.Equal(t, 2, backend.BookedCount(7))

	marker, ok, err := mailbox.TakeAndClear(context.Background(), session.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"A1", "A2"}, marker.BookedSeats)

	// Availability reflects the pending commit even before the backend
	// snapshot catches up, then the commit converges and drains.
	avail, ok := sup.Availability()
	require.True(t, ok)
	assert.Equal(t, 2, avail)

	require.Eventually(t, func() bool { return ov.Adjustment(7) == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return changeCount() >= 1 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, changes[0].Booked)
	mu.Unlock()

	avail, ok = sup.Availability()
	require.True(t, ok)
	assert.Equal(t, 2, avail)
	assert.False(t, sup.Diverged())
}

func TestBookingConflictPreservesSelection(t *testing.T) {
	backend, client := startBackend(t)

	concert := testConcert(7, "B1", "B2", "B3")
	concert.Seats[1].IsBooked = true // B2 is gone
	backend.AddConcert(concert)

	ov := overlay.New(0)
	flow := booking.New(client, ov, bus.New(quietLogger()), session.NewMemory(), nil, quietLogger())

	err := flow.Book(context.Background(), 42, 7, []string{"B1", "B2", "B3"})

	var partial *booking.PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "B2", partial.FailedSeat)
	assert.Equal(t, []string{"B1"}, partial.Booked)
	assert.Equal(t, []string{"B3"}, partial.Remaining)
	assert.True(t, rest.IsConflict(partial.Err))

	assert.Equal(t, 1, ov.Adjustment(7))
	assert.Equal(t, 2, backend.BookedCount(7))
}
