// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/absmach/gaterush/queue"
	"github.com/gorilla/websocket"
)

// wsMessage is the JSON frame of the websocket stream variant.
type wsMessage struct {
	Type  string `json:"type"`
	Rank  int    `json:"rank"`
	Total int    `json:"total"`
	TS    string `json:"ts"`
}

// DialStreamWS opens the websocket variant of the admission stream. The
// frame semantics match the SSE stream: snapshot, update and error
// messages, delivered in arrival order.
func (c *Client) DialStreamWS(ctx context.Context, concertSE, userSE int64) (queue.EventSource, error) {
	url := fmt.Sprintf("%s/queue/stream/ws?concert_se=%d&user_se=%d", wsBase(c.base), concertSE, userSE)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	return &wsSource{conn: conn}, nil
}

func wsBase(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

type wsSource struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *wsSource) Next() (queue.Event, error) {
	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return queue.Event{}, err
		}

		switch msg.Type {
		case "snapshot", "update":
			kind := queue.KindUpdate
			if msg.Type == "snapshot" {
				kind = queue.KindSnapshot
			}
			ts, _ := time.Parse(time.RFC3339Nano, msg.TS)
			return queue.Event{Kind: kind, Rank: msg.Rank, Total: msg.Total, Timestamp: ts}, nil
		case "error":
			return queue.Event{}, ErrStreamFailed
		default:
			// Ignore unknown frames.
		}
	}
}

// Close is idempotent and unblocks a pending Next.
func (s *wsSource) Close() error {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
	return nil
}
