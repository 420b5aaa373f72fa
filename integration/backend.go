// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package integration hosts an in-memory ticketing backend used by the
// end-to-end tests: the admission queue endpoints (enqueue plus SSE and
// websocket rank streams), seat booking and the concert inventory query.
package integration

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/absmach/gaterush/rest"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

type rankUpdate struct {
	Rank  int    `json:"rank"`
	Total int    `json:"total"`
	TS    string `json:"ts"`
}

// Backend is a self-contained fake of the on-sale services. Tests drive
// the queue with Admit and inspect state through the public endpoints.
type Backend struct {
	logger *slog.Logger

	mu       sync.Mutex
	concerts map[int64]*rest.Concert
	queues   map[int64][]int64
	watchers map[int64]map[int64][]chan rankUpdate

	upgrader websocket.Upgrader
}

func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger:   logger,
		concerts: make(map[int64]*rest.Concert),
		queues:   make(map[int64][]int64),
		watchers: make(map[int64]map[int64][]chan rankUpdate),
	}
}

// Handler returns the HTTP handler serving all backend endpoints.
func (b *Backend) Handler() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.POST("/queue/enqueue", b.enqueue)
	e.GET("/queue/stream", b.streamSSE)
	e.GET("/queue/stream/ws", b.streamWS)
	e.POST("/concerts-booking", b.bookSeat)
	e.GET("/concerts/:id", b.concertDetail)

	return e
}

// AddConcert registers a concert record.
func (b *Backend) AddConcert(c rest.Concert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.concerts[c.ConcertSE] = &c
}

// Admit dequeues the head of the concert's queue and pushes rank updates
// to every connected stream. The admitted participant sees rank -1.
func (b *Backend) Admit(concertSE int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[concertSE]
	if len(q) == 0 {
		return
	}
	admitted := q[0]
	b.queues[concertSE] = q[1:]
	b.notifyLocked(concertSE, admitted)
}

// BookedCount reports how many seats are booked for the concert.
func (b *Backend) BookedCount(concertSE int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	concert, ok := b.concerts[concertSE]
	if !ok {
		return 0
	}
	n := 0
	for _, s := range concert.Seats {
		if s.IsBooked {
			n++
		}
	}
	return n
}

func (b *Backend) enqueue(c echo.Context) error {
	var req struct {
		ConcertSE int64 `json:"concert_se"`
		UserSE    int64 `json:"user_se"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.concerts[req.ConcertSE]; !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "concert not found"})
	}

	rank, total := b.rankLocked(req.ConcertSE, req.UserSE)
	if rank == 0 {
		b.queues[req.ConcertSE] = append(b.queues[req.ConcertSE], req.UserSE)
		rank, total = b.rankLocked(req.ConcertSE, req.UserSE)
	}

	return c.JSON(http.StatusOK, map[string]int{"rank": rank, "total": total})
}

func (b *Backend) streamSSE(c echo.Context) error {
	concertSE, userSE, err := streamParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	ch, cancel := b.watch(concertSE, userSE)
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	writeSSE(res, "snapshot", b.current(concertSE, userSE))
	res.Flush()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case u := <-ch:
			writeSSE(res, "update", u)
			res.Flush()
		}
	}
}

func (b *Backend) streamWS(c echo.Context) error {
	concertSE, userSE, err := streamParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": err.Error()})
	}

	conn, err := b.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, cancel := b.watch(concertSE, userSE)
	defer cancel()

	if err := conn.WriteJSON(wsFrame("snapshot", b.current(concertSE, userSE))); err != nil {
		return nil
	}

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case u := <-ch:
			if err := conn.WriteJSON(wsFrame("update", u)); err != nil {
				return nil
			}
		}
	}
}

func (b *Backend) bookSeat(c echo.Context) error {
	var req rest.Booking
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid request"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	concert, ok := b.concerts[req.ConcertSE]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "concert not found"})
	}

	for i, s := range concert.Seats {
		if s.SeatNumber != req.SeatNumber {
			continue
		}
		if s.IsBooked {
			return c.JSON(http.StatusConflict, map[string]string{"detail": "seat already booked"})
		}
		concert.Seats[i].IsBooked = true
		return c.JSON(http.StatusOK, req)
	}
	return c.JSON(http.StatusNotFound, map[string]string{"detail": "seat not found"})
}

func (b *Backend) concertDetail(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid concert id"})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	concert, ok := b.concerts[id]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "concert not found"})
	}
	return c.JSON(http.StatusOK, concert)
}

// rankLocked reports the participant's 1-based rank and the queue depth.
// Rank 0 means not queued; rank -1 means already admitted.
func (b *Backend) rankLocked(concertSE, userSE int64) (int, int) {
	q := b.queues[concertSE]
	for i, u := range q {
		if u == userSE {
			return i + 1, len(q)
		}
	}
	return 0, len(q)
}

func (b *Backend) current(concertSE, userSE int64) rankUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()

	rank, total := b.rankLocked(concertSE, userSE)
	if rank == 0 {
		rank = -1
	}
	return rankUpdate{Rank: rank, Total: total, TS: time.Now().UTC().Format(time.RFC3339Nano)}
}

func (b *Backend) watch(concertSE, userSE int64) (chan rankUpdate, func()) {
	ch := make(chan rankUpdate, 8)

	b.mu.Lock()
	if b.watchers[concertSE] == nil {
		b.watchers[concertSE] = make(map[int64][]chan rankUpdate)
	}
	b.watchers[concertSE][userSE] = append(b.watchers[concertSE][userSE], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.watchers[concertSE][userSE]
		for i, existing := range chans {
			if existing == ch {
				b.watchers[concertSE][userSE] = append(chans[:i:i], chans[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

// notifyLocked pushes fresh ranks to every watcher of the concert,
// including the just-admitted participant.
func (b *Backend) notifyLocked(concertSE, admitted int64) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	for userSE, chans := range b.watchers[concertSE] {
		rank, total := b.rankLocked(concertSE, userSE)
		if rank == 0 {
			if userSE != admitted {
				continue
			}
			rank = -1
		}
		u := rankUpdate{Rank: rank, Total: total, TS: ts}
		for _, ch := range chans {
			select {
			case ch <- u:
			default:
			}
		}
	}
}

func streamParams(c echo.Context) (int64, int64, error) {
	concertSE, err := strconv.ParseInt(c.QueryParam("concert_se"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid concert_se")
	}
	userSE, err := strconv.ParseInt(c.QueryParam("user_se"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid user_se")
	}
	return concertSE, userSE, nil
}

func writeSSE(w http.ResponseWriter, name string, u rankUpdate) {
	data, _ := json.Marshal(u)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func wsFrame(kind string, u rankUpdate) map[string]any {
	return map[string]any{"type": kind, "rank": u.Rank, "total": u.Total, "ts": u.TS}
}
