// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/absmach/gaterush/queue"
)

// streamPayload is the JSON body of snapshot and update events.
type streamPayload struct {
	Rank  int    `json:"rank"`
	Total int    `json:"total"`
	TS    string `json:"ts"`
}

// DialStream opens the server-sent-events admission stream for the given
// concert and participant. The returned source delivers `snapshot` and
// `update` events in arrival order; a server `error` event or transport
// failure surfaces from Next.
func (c *Client) DialStream(ctx context.Context, concertSE, userSE int64) (queue.EventSource, error) {
	url := fmt.Sprintf("%s/queue/stream?concert_se=%d&user_se=%d", c.base, concertSE, userSE)

	// Close cancels this context, which unblocks a pending body read.
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream dial failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := decodeError(resp)
		resp.Body.Close()
		cancel()
		return nil, err
	}

	return &sseSource{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

// sseSource reads one text/event-stream connection.
type sseSource struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Next blocks until the next snapshot or update event. Heartbeat comments
// and unknown event names are skipped.
func (s *sseSource) Next() (queue.Event, error) {
	for {
		name, data, err := s.readEvent()
		if err != nil {
			return queue.Event{}, err
		}

		switch name {
		case "snapshot", "update":
			var p streamPayload
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				return queue.Event{}, fmt.Errorf("malformed stream payload: %w", err)
			}
			kind := queue.KindUpdate
			if name == "snapshot" {
				kind = queue.KindSnapshot
			}
			ts, _ := time.Parse(time.RFC3339Nano, p.TS)
			return queue.Event{Kind: kind, Rank: p.Rank, Total: p.Total, Timestamp: ts}, nil
		case "error":
			return queue.Event{}, fmt.Errorf("%w: %s", ErrStreamFailed, data)
		default:
			// Ignore other named events.
		}
	}
}

// readEvent accumulates lines until the blank-line dispatch marker.
func (s *sseSource) readEvent() (name, data string, err error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if name != "" || len(dataLines) > 0 {
				return name, strings.Join(dataLines, "\n"), nil
			}
			// Empty event, keep reading.
		case strings.HasPrefix(line, ":"):
			// Comment / heartbeat.
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

// Close is idempotent and unblocks a pending Next.
func (s *sseSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.resp.Body.Close()
	})
	return nil
}
