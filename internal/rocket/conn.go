package rocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nextlevelbuilder/rockgate/internal/bus"
)

// State is the connection lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "idle"
	}
}

const (
	heartbeatInterval = 15 * time.Second
	msgBufferSize     = 64

	backoffBase   = 1000 * time.Millisecond
	backoffGrowth = 1.7
	backoffCap    = 15 * time.Second
)

var (
	pingFrame = []byte(`{"msg":"ping"}`)
	pongFrame = []byte(`{"msg":"pong"}`)
)

// ReconnectDelay computes the backoff before reconnect attempt n (1-based):
// min(base * growth^(n-1), cap). Non-decreasing and bounded.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(backoffBase) * math.Pow(backoffGrowth, float64(attempt-1)))
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// StatusEvent reports a connection state change.
type StatusEvent struct {
	Connected bool
	Err       string
	Attempt   int
}

// ConnConfig configures a Conn.
type ConnConfig struct {
	AccountID string
	WSURL     string
	Client    *Client  // REST send path
	Dial      DialFunc // nil = DialWS against WSURL
}

// openAwait resolves the error (or nil) seen by the caller blocked in
// Connect. Resolved at most once per Connect call.
type openAwait struct {
	once sync.Once
	ch   chan error
}

func (a *openAwait) resolve(err error) {
	a.once.Do(func() { a.ch <- err })
}

// Conn maintains one persistent push connection: connect, heartbeat,
// automatic reconnect with backoff, and raw-frame-to-canonical-message
// parsing. Inbound messages and status changes are delivered on single
// consumer channels read by the account monitor.
type Conn struct {
	cfg  ConnConfig
	dial DialFunc

	mu             sync.Mutex
	state          State
	ws             wsConn
	closing        bool
	attempt        int
	reconnectTimer *time.Timer
	hbCancel       context.CancelFunc

	messages chan bus.InboundMessage
	statusCh chan StatusEvent
}

// NewConn creates a connection client for one account.
func NewConn(cfg ConnConfig) *Conn {
	c := &Conn{
		cfg:      cfg,
		dial:     cfg.Dial,
		messages: make(chan bus.InboundMessage, msgBufferSize),
		statusCh: make(chan StatusEvent, 16),
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context) (wsConn, error) {
			return DialWS(ctx, cfg.WSURL, nil)
		}
	}
	return c
}

// Messages returns the canonical inbound message stream.
func (c *Conn) Messages() <-chan bus.InboundMessage { return c.messages }

// Status returns the connection status event stream.
func (c *Conn) Status() <-chan StatusEvent { return c.statusCh }

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the push connection and blocks until the server handshake
// completes or fails. Idempotent while already open or connecting. A close
// that happens after the first successful open does not fail this call; it
// only surfaces as a status event and a scheduled reconnect.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.attempt = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	aw := &openAwait{ch: make(chan error, 1)}
	go c.session(ctx, aw)

	select {
	case err := <-aw.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect requests a clean shutdown: cancels pending reconnects, stops
// the heartbeat, and closes the socket. Safe to call repeatedly and on an
// already-closed connection.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closing = true
	c.state = StateClosing
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.state = StateIdle
	c.mu.Unlock()

	if ws != nil {
		ws.Close(1000, "client disconnect")
	}
}

// Send delivers a text message through the account's send path and returns
// the provider message id. Fails fast when the connection is not open.
// Attachments are not supported on this path.
func (c *Conn) Send(ctx context.Context, targetID, content string, opts SendOptions) (string, error) {
	if len(opts.Attachments) > 0 {
		return "", fmt.Errorf("attachments are not supported on the send path, upload media separately")
	}

	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return "", fmt.Errorf("not connected (account %s)", c.cfg.AccountID)
	}
	return c.cfg.Client.SendMessage(ctx, targetID, content, opts)
}

// --- session lifecycle ---

func (c *Conn) session(ctx context.Context, aw *openAwait) {
	ws, err := c.dial(ctx)
	if err != nil {
		c.handleDown(ctx, aw, fmt.Errorf("connect: %w", err))
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		ws.Close(1000, "")
		return
	}
	c.ws = ws
	c.mu.Unlock()

	for {
		data, err := ws.ReadMessage(ctx)
		if err != nil {
			code, reason := closeInfo(err)
			c.handleDown(ctx, aw, fmt.Errorf("connection closed (%d): %s", code, reason))
			return
		}
		c.handleFrame(ctx, aw, data)
	}
}

// markOpen transitions to Open after the server handshake: resets the
// reconnect counter, resolves the initial Connect await, and starts the
// heartbeat.
func (c *Conn) markOpen(ctx context.Context, aw *openAwait) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.attempt = 0
	if c.hbCancel != nil {
		c.hbCancel()
	}
	hctx, cancel := context.WithCancel(ctx)
	c.hbCancel = cancel
	c.mu.Unlock()

	slog.Info("connection open", "account", c.cfg.AccountID)
	aw.resolve(nil)
	c.emitStatus(StatusEvent{Connected: true})
	go c.heartbeat(hctx)
}

// handleDown runs on dial failure or read-loop exit: stops the heartbeat,
// surfaces the error to a still-waiting Connect caller, and schedules a
// reconnect unless an explicit stop was requested. The reconnect timer is
// rearmed, never stacked.
func (c *Conn) handleDown(ctx context.Context, aw *openAwait, cause error) {
	c.mu.Lock()
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	c.ws = nil
	if c.closing {
		c.state = StateIdle
		c.mu.Unlock()
		aw.resolve(cause)
		return
	}
	c.state = StateIdle
	c.attempt++
	attempt := c.attempt
	delay := ReconnectDelay(attempt)

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.closing || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		go c.session(ctx, aw)
	})
	c.mu.Unlock()

	aw.resolve(cause)
	slog.Warn("connection down, reconnect scheduled",
		"account", c.cfg.AccountID, "attempt", attempt, "delay", delay, "error", cause)
	c.emitStatus(StatusEvent{Connected: false, Err: cause.Error(), Attempt: attempt})
}

func (c *Conn) handleFrame(ctx context.Context, aw *openAwait, data []byte) {
	var tag struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		// Malformed frames are dropped, never fatal.
		return
	}

	switch tag.Msg {
	case "connected":
		c.markOpen(ctx, aw)
	case "ping":
		_ = c.writeFrame(ctx, pongFrame)
	case "pong":
		// heartbeat response, never forwarded
	default:
		msg, reason := ParsePush(c.cfg.AccountID, data, time.Now())
		if msg == nil {
			if reason != "" {
				slog.Debug("push frame skipped", "account", c.cfg.AccountID, "reason", reason)
			}
			return
		}
		select {
		case c.messages <- *msg:
		default:
			slog.Warn("inbound buffer full, dropping push message",
				"account", c.cfg.AccountID, "message_id", msg.ID)
		}
	}
}

// heartbeat emits a ping immediately and then every 15s while the
// connection stays open.
func (c *Conn) heartbeat(ctx context.Context) {
	if err := c.writeFrame(ctx, pingFrame); err != nil {
		return
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeFrame(ctx, pingFrame); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeFrame(ctx context.Context, data []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("socket closed")
	}
	return ws.WriteMessage(ctx, data)
}

func (c *Conn) emitStatus(ev StatusEvent) {
	select {
	case c.statusCh <- ev:
	default:
	}
}
