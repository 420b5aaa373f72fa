// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package rest implements HTTP clients for the three backend
// collaborators: the admission queue service, the booking service and
// the inventory query service.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/absmach/gaterush/overlay"
	"github.com/sony/gobreaker"
)

// DefaultTimeout applies to request/response calls. The stream dial uses
// a separate client with no timeout, since the connection is long-lived.
const DefaultTimeout = 10 * time.Second

// Client talks to the on-sale backend.
type Client struct {
	base    string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
}

// New creates a backend client for the given base URL.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The reconciliation loop polls the inventory endpoint continuously;
	// the breaker keeps a flapping backend from being hammered.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "inventory-query",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  logger,
		breaker: breaker,
	}, nil
}

// Enqueue performs the admission queue handshake and returns the initial
// rank and total.
func (c *Client) Enqueue(ctx context.Context, concertSE, userSE int64) (int, int, error) {
	var out enqueueResponse
	err := c.postJSON(ctx, "/queue/enqueue", enqueueRequest{ConcertSE: concertSE, UserSE: userSE}, &out)
	if err != nil {
		return 0, 0, fmt.Errorf("enqueue: %w", err)
	}
	return out.Rank, out.Total, nil
}

// BookSeat durably commits one seat reservation. A conflict (seat already
// taken) or validation failure comes back as an *APIError with the
// server's detail.
func (c *Client) BookSeat(ctx context.Context, userSE, concertSE int64, seatNumber string) (Booking, error) {
	req := Booking{UserSE: userSE, ConcertSE: concertSE, SeatNumber: seatNumber}
	var out Booking
	if err := c.postJSON(ctx, "/concerts-booking", req, &out); err != nil {
		return Booking{}, fmt.Errorf("book seat %s: %w", seatNumber, err)
	}
	return out, nil
}

// ConcertDetail fetches the authoritative concert record, seats included.
func (c *Client) ConcertDetail(ctx context.Context, concertSE int64) (Concert, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		var out Concert
		if err := c.getJSON(ctx, fmt.Sprintf("/concerts/%d", concertSE), &out); err != nil {
			return Concert{}, err
		}
		return out, nil
	})
	if err != nil {
		return Concert{}, fmt.Errorf("concert detail: %w", err)
	}
	return result.(Concert), nil
}

// Snapshot fetches the concert record and converts it into an inventory
// snapshot stamped with the fetch time.
func (c *Client) Snapshot(ctx context.Context, concertSE int64) (overlay.Snapshot, error) {
	concert, err := c.ConcertDetail(ctx, concertSE)
	if err != nil {
		return overlay.Snapshot{}, err
	}
	return concert.Snapshot(time.Now().UTC()), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var detail errorResponse
		if json.Unmarshal(body, &detail) == nil {
			apiErr.Detail = detail.Detail
		}
	}
	return apiErr
}
