// Package transport owns the per-connection write machinery and the
// connection table that maps live participants to their channels.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robothub/transport-server/internal/v1/logging"
	"github.com/robothub/transport-server/internal/v1/types"
)

const (
	// sendBufferSize bounds the per-client outbound queue. A full queue is
	// treated as a dead peer.
	sendBufferSize = 256

	writeWait = 10 * time.Second
)

var (
	// ErrClientClosed is returned by Send after Disconnect.
	ErrClientClosed = errors.New("transport: client closed")

	// ErrSendBufferFull is returned when the outbound queue cannot accept
	// another frame without blocking.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single participant's bidirectional channel. Rooms never
// hold a *Client; they reference participants by identifier and resolve the
// channel through the Table on every send.
type Client struct {
	ID types.ParticipantIDType

	conn wsConnection
	send chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// NewClient wraps an established WebSocket connection.
func NewClient(id types.ParticipantIDType, conn wsConnection) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Send JSON-marshals v and enqueues it without blocking. A closed client or a
// full buffer is a send failure; callers evict the participant on error.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw enqueues a pre-serialized frame without blocking.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	// Disconnect may close the channel between the check above and the send.
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closed client",
				zap.String("participantId", string(c.ID)), zap.Any("panic", r))
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// ReadMessage blocks for the next inbound text frame. Non-text frames are
// skipped; any transport error ends the stream.
func (c *Client) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Disconnect closes the send channel once. The write pump drains the buffer,
// sends a close frame, and closes the underlying connection, which in turn
// unblocks the reader.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.send) })
}

// WritePump drains the send channel onto the wire. Run as a goroutine per
// client; it owns the connection teardown.
func (c *Client) WritePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		message, ok := <-c.send
		if !ok {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("participantId", string(c.ID)), zap.Error(err))
			return
		}
	}
}
