// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"time"

	"github.com/absmach/gaterush/overlay"
)

// SeatRecord is one seat in the authoritative concert record.
type SeatRecord struct {
	SeatNumber string `json:"seat_number"`
	IsBooked   bool   `json:"is_booked"`
}

// Concert is the backend concert record. Its seats field is the
// authoritative inventory source.
type Concert struct {
	ConcertSE          int64        `json:"concert_se"`
	ConcertName        string       `json:"concert_name"`
	ConcertDate        string       `json:"concert_date"`
	ConcertTime        string       `json:"concert_time"`
	ConcertPrice       int64        `json:"concert_price"`
	ConcertVenue       string       `json:"concert_venue"`
	ConcertDescription string       `json:"concert_description"`
	Seats              []SeatRecord `json:"seats"`
}

// Snapshot converts the concert record into an inventory snapshot.
func (c Concert) Snapshot(fetchedAt time.Time) overlay.Snapshot {
	snap := overlay.Snapshot{
		ConcertSE: c.ConcertSE,
		Seats:     make([]overlay.Seat, 0, len(c.Seats)),
		FetchedAt: fetchedAt,
	}
	for _, s := range c.Seats {
		snap.Seats = append(snap.Seats, overlay.Seat{Number: s.SeatNumber, Booked: s.IsBooked})
	}
	return snap
}

// Booking describes one committed seat reservation.
type Booking struct {
	UserSE     int64  `json:"user_se"`
	ConcertSE  int64  `json:"concert_se"`
	SeatNumber string `json:"seat_number"`
}

type enqueueRequest struct {
	ConcertSE int64 `json:"concert_se"`
	UserSE    int64 `json:"user_se"`
}

type enqueueResponse struct {
	Rank  int `json:"rank"`
	Total int `json:"total"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}
