// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package overlay tracks locally-known, not-yet-confirmed seat
// reservations and adjusts the authoritative availability figure so a
// client reads its own writes before the backend republishes them.
package overlay

import (
	"sync"
	"time"
)

// DefaultTTL is the maximum age a pending commit may reach before it is
// purged regardless of convergence.
const DefaultTTL = 5 * time.Minute

// Seat is one entry of an authoritative inventory snapshot.
type Seat struct {
	Number string
	Booked bool
}

// Snapshot is an authoritative inventory read. It is immutable once
// fetched and superseded wholesale by the next fetch, never patched.
type Snapshot struct {
	ConcertSE int64
	Seats     []Seat
	FetchedAt time.Time
}

// BookedCount returns the number of booked seats in the snapshot.
func (s Snapshot) BookedCount() int {
	n := 0
	for _, seat := range s.Seats {
		if seat.Booked {
			n++
		}
	}
	return n
}

// UnbookedCount returns the number of available seats in the snapshot.
func (s Snapshot) UnbookedCount() int {
	return len(s.Seats) - s.BookedCount()
}

// PendingCommit is one locally-successful booking call awaiting
// authoritative confirmation. Seat numbers are unique within a commit.
type PendingCommit struct {
	ConcertSE   int64
	SeatNumbers []string
	CreatedAt   time.Time
}

// ReconcileResult describes what a Reconcile pass removed.
type ReconcileResult struct {
	Converged []PendingCommit
	Expired   []PendingCommit
}

// Changed reports whether the pass removed any commit.
func (r ReconcileResult) Changed() bool {
	return len(r.Converged) > 0 || len(r.Expired) > 0
}

// Overlay owns all pending commits. Other components read it only through
// Adjustment and Availability; mutation happens through Record and
// Reconcile.
type Overlay struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	commits []*PendingCommit
}

// New creates an overlay with the given commit TTL. A non-positive ttl
// selects DefaultTTL.
func New(ttl time.Duration) *Overlay {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Overlay{ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Test use only.
func (o *Overlay) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Record appends a pending commit for a locally-successful booking. Seat
// numbers must be non-empty and unique within the call; duplicates within
// the call are dropped.
func (o *Overlay) Record(concertSE int64, seatNumbers []string) {
	seen := make(map[string]bool, len(seatNumbers))
	seats := make([]string, 0, len(seatNumbers))
	for _, s := range seatNumbers {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		seats = append(seats, s)
	}
	if len(seats) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, &PendingCommit{
		ConcertSE:   concertSE,
		SeatNumbers: seats,
		CreatedAt:   o.now(),
	})
}

// Adjustment returns the total seat count held in live (non-expired,
// non-converged) commits for the concert. Commits accumulate additively:
// a seat appearing in two separate commits is counted twice. Convergence
// removal happens only in Reconcile; expired commits are excluded here
// without being removed.
func (o *Overlay) Adjustment(concertSE int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.ttl)
	total := 0
	for _, c := range o.commits {
		if c.ConcertSE != concertSE || !c.CreatedAt.After(cutoff) {
			continue
		}
		total += len(c.SeatNumbers)
	}
	return total
}

// Pending returns the number of live commits for the concert.
func (o *Overlay) Pending(concertSE int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.ttl)
	n := 0
	for _, c := range o.commits {
		if c.ConcertSE == concertSE && c.CreatedAt.After(cutoff) {
			n++
		}
	}
	return n
}

// Reconcile removes commits for the snapshot's concert whose entire seat
// set the snapshot shows as booked (partial overlap is not sufficient: a
// booking call is atomic for its seat set, so the commit converges only
// as a whole), and separately purges commits older than the TTL
// regardless of convergence. Reconciling twice with the same snapshot is
// idempotent: the second pass removes nothing.
func (o *Overlay) Reconcile(snap Snapshot) ReconcileResult {
	booked := make(map[string]bool, len(snap.Seats))
	for _, seat := range snap.Seats {
		if seat.Booked {
			booked[seat.Number] = true
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.ttl)
	var res ReconcileResult
	kept := o.commits[:0]
	for _, c := range o.commits {
		switch {
		case !c.CreatedAt.After(cutoff):
			res.Expired = append(res.Expired, *c)
		case c.ConcertSE == snap.ConcertSE && allBooked(c.SeatNumbers, booked):
			res.Converged = append(res.Converged, *c)
		default:
			kept = append(kept, c)
		}
	}
	o.commits = kept
	return res
}

func allBooked(seats []string, booked map[string]bool) bool {
	for _, s := range seats {
		if !booked[s] {
			return false
		}
	}
	return true
}

// Availability is the reconciled availability figure: authoritative
// unbooked count minus the overlay adjustment, floored at zero. It is
// derived on demand and never stored.
func Availability(snap Snapshot, adjustment int) int {
	avail := snap.UnbookedCount() - adjustment
	if avail < 0 {
		return 0
	}
	return avail
}
