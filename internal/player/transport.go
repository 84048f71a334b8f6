// ViewPulse - Lesson Watch-Session Telemetry and Player Control
// Copyright 2026 LessonLab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lessonlab/viewpulse

package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lessonlab/viewpulse/internal/logging"
)

const writeWait = 10 * time.Second

// Frame is one origin-tagged message from the player channel. The host side
// of the channel stamps every message with the origin of the browsing
// context that produced it, so the trust check applies per message.
type Frame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// MessageTransport is the bidirectional message channel to the embedded
// player. Read blocks until a message arrives or the transport fails;
// Write posts one outbound message with no delivery confirmation.
type MessageTransport interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// WebSocketTransport carries the player message channel over a websocket.
// A ping loop keeps an idle-but-healthy channel alive: the read deadline is
// extended on every pong, so only a peer that stops answering pings trips
// the deadline.
type WebSocketTransport struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	readTimeout time.Duration
	stopPing    chan struct{}
	stopOnce    sync.Once
}

var _ MessageTransport = (*WebSocketTransport)(nil)

// DialWebSocket connects to the player channel endpoint.
func DialWebSocket(ctx context.Context, url string, handshakeTimeout, readTimeout time.Duration) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	t := &WebSocketTransport{
		conn:        conn,
		readTimeout: readTimeout,
		stopPing:    make(chan struct{}),
	}
	if readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		go t.pingLoop()
	}
	return t, nil
}

// pingLoop sends pings at 9/10 of the read timeout so a responsive peer
// always refreshes the deadline before it expires. Exits when Close is
// called or the first ping write fails.
func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(t.readTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopPing:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			t.writeMu.Unlock()
			if err != nil {
				logging.Debug().Err(err).Msg("player channel ping failed")
				return
			}
		}
	}
}

// Read returns the next raw message from the channel.
func (t *WebSocketTransport) Read() ([]byte, error) {
	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return data, nil
}

// Write posts one outbound message. Serialized because gorilla permits a
// single concurrent writer.
func (t *WebSocketTransport) Write(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close stops the ping loop, sends a close frame, and tears the
// connection down.
func (t *WebSocketTransport) Close() error {
	t.stopOnce.Do(func() { close(t.stopPing) })

	t.writeMu.Lock()
	// Best effort; the peer may already be gone.
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
