package rocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const wsReadLimit = 1 << 20 // 1MB

// wsConn is the minimal socket surface the connection state machine needs.
// Tests substitute a scripted fake.
type wsConn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(code int, reason string)
}

// DialFunc opens a websocket session. The production implementation is
// DialWS; tests inject fakes.
type DialFunc func(ctx context.Context) (wsConn, error)

// WSClient wraps coder/websocket with a write mutex so heartbeat pings and
// outbound frames never interleave on the wire.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// DialWS connects to a websocket endpoint.
func DialWS(ctx context.Context, wsURL string, headers http.Header) (*WSClient, error) {
	opts := &websocket.DialOptions{HTTPHeader: headers}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &WSClient{conn: conn}, nil
}

// ReadMessage reads the next frame. Blocks until a frame arrives, the
// context is cancelled, or the connection is closed.
func (c *WSClient) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// WriteMessage sends a text frame. Thread-safe.
func (c *WSClient) WriteMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame and shuts down the connection. Safe to call on
// an already-closed socket.
func (c *WSClient) Close(code int, reason string) {
	c.conn.Close(websocket.StatusCode(code), reason)
}

// closeInfo extracts a close code and reason from a read error.
func closeInfo(err error) (int, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	return 1006, err.Error()
}
