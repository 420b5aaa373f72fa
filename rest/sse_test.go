// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/gaterush/queue"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/queue/stream", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		// Commit the response headers so DialStream returns even when
		// the fixture has no frames to send.
		flusher.Flush()

		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
		// Keep the stream open until the client goes away.
		<-r.Context().Done()
	}
}

func TestSSESourceDeliversEventsInOrder(t *testing.T) {
	frames := []string{
		": heartbeat\n\n",
		"event: snapshot\ndata: {\"rank\": 37, \"total\": 120, \"ts\": \"2025-06-01T12:00:00Z\"}\n\n",
		"event: update\ndata: {\"rank\": 5, \"total\": 80}\n\n",
		"event: update\ndata: {\"rank\": 1, \"total\": 50}\n\n",
	}
	srv := httptest.NewServer(sseHandler(t, frames))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	src, err := c.DialStream(context.Background(), 7, 42)
	require.NoError(t, err)
	defer src.Close()

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, queue.KindSnapshot, ev.Kind)
	assert.Equal(t, 37, ev.Rank)
	assert.Equal(t, 120, ev.Total)
	assert.Equal(t, 2025, ev.Timestamp.Year())

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, queue.KindUpdate, ev.Kind)
	assert.Equal(t, 5, ev.Rank)

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, ev.Rank)
}

func TestSSESourceErrorEvent(t *testing.T) {
	frames := []string{
		"event: error\ndata: stream expired\n\n",
	}
	srv := httptest.NewServer(sseHandler(t, frames))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	src, err := c.DialStream(context.Background(), 7, 42)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamFailed)
	assert.Contains(t, err.Error(), "stream expired")
}

func TestSSEDialNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail": "unknown concert"}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	_, err = c.DialStream(context.Background(), 99, 1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unknown concert", apiErr.Detail)
}

func TestSSECloseUnblocksNext(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, nil))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	src, err := c.DialStream(context.Background(), 7, 42)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := src.Next()
		errCh <- err
	}()

	src.Close()
	src.Close() // idempotent

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not unblock after Close")
	}
}

func TestWSSourceDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/queue/stream/ws", r.URL.Path)

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.WriteJSON(wsMessage{Type: "snapshot", Rank: 12, Total: 40})
		conn.WriteJSON(wsMessage{Type: "ping"}) // unknown frame, skipped
		conn.WriteJSON(wsMessage{Type: "update", Rank: 1, Total: 2})

		// Hold the connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, time.Second, nil)
	require.NoError(t, err)

	src, err := c.DialStreamWS(context.Background(), 7, 42)
	require.NoError(t, err)
	defer src.Close()

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, queue.KindSnapshot, ev.Kind)
	assert.Equal(t, 12, ev.Rank)

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, queue.KindUpdate, ev.Kind)
	assert.Equal(t, 1, ev.Rank)
}
