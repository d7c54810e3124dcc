// Package delivery sends agent replies back to the chat server: target
// normalization, a per-target sliding-window rate limit, and retry with
// backoff for transient failures.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/rockgate/internal/rocket"
	"github.com/nextlevelbuilder/rockgate/internal/target"
)

const (
	rateLimitMax    = 20
	rateLimitWindow = 60 * time.Second

	maxRetries = 3
	retryBase  = 1000 * time.Millisecond
	retryCap   = 10 * time.Second
)

// Sender is the underlying send path, satisfied by rocket.Conn.
type Sender interface {
	Send(ctx context.Context, targetID, content string, opts rocket.SendOptions) (string, error)
}

// StatusRecorder receives outbound activity timestamps. Optional.
type StatusRecorder interface {
	RecordOutbound(accountID string)
}

// RateLimitError is returned when a target's window is exhausted. Never
// retried.
type RateLimitError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("rate limited: try again in %ds", secs)
}

// window is one target's rolling send window. Reset lazily on the first
// send after expiry.
type window struct {
	start time.Time
	count int
}

// Pipeline is the outbound path for one account.
type Pipeline struct {
	accountID string
	sender    Sender
	status    StatusRecorder

	mu      sync.Mutex
	windows map[string]*window

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates the delivery pipeline for one account. status may be
// nil.
func NewPipeline(accountID string, sender Sender, status StatusRecorder) *Pipeline {
	return &Pipeline{
		accountID: accountID,
		sender:    sender,
		status:    status,
		windows:   make(map[string]*window),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send normalizes the target, checks its rate window, and delegates to the
// sender. A window rejection returns a RateLimitError without sending.
func (p *Pipeline) Send(ctx context.Context, rawTarget, content string, opts rocket.SendOptions) (string, error) {
	if err := target.Validate(rawTarget); err != nil {
		return "", err
	}
	normalized := target.Normalize(rawTarget)

	if err := p.checkWindow(normalized); err != nil {
		return "", err
	}

	id, err := p.sender.Send(ctx, normalized, content, opts)
	if err != nil {
		return "", err
	}

	p.recordSend(normalized)
	if p.status != nil {
		p.status.RecordOutbound(p.accountID)
	}
	return id, nil
}

// SendWithRetry wraps Send with up to maxRetries retries of transient
// errors, backing off min(1000 * 2^attempt, 10000) ms between attempts.
// Terminal errors and exhausted retries propagate the last error.
func (p *Pipeline) SendWithRetry(ctx context.Context, rawTarget, content string, opts rocket.SendOptions) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		id, err := p.Send(ctx, rawTarget, content, opts)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt >= maxRetries {
			return "", lastErr
		}
		delay := RetryDelay(attempt)
		slog.Debug("transient send failure, retrying",
			"account", p.accountID, "target", rawTarget, "attempt", attempt+1, "delay", delay, "error", err)
		if serr := p.sleep(ctx, delay); serr != nil {
			return "", serr
		}
	}
}

// RetryDelay computes the backoff before the retry following attempt
// (0-based): min(1000 * 2^attempt, 10000) ms.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := retryBase << attempt
	if d > retryCap || d <= 0 {
		return retryCap
	}
	return d
}

// checkWindow enforces the per-target limit, resetting an expired window in
// place.
func (p *Pipeline) checkWindow(normalized string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	w := p.windows[normalized]
	if w == nil {
		return nil
	}
	if now.Sub(w.start) >= rateLimitWindow {
		w.start = now
		w.count = 0
		return nil
	}
	if w.count >= rateLimitMax {
		return &RateLimitError{
			Target:     normalized,
			RetryAfter: rateLimitWindow - now.Sub(w.start),
		}
	}
	return nil
}

func (p *Pipeline) recordSend(normalized string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	w := p.windows[normalized]
	if w == nil || now.Sub(w.start) >= rateLimitWindow {
		p.windows[normalized] = &window{start: now, count: 1}
		return
	}
	w.count++
}

// terminalMarkers identify errors that must never be retried; they are
// checked before the transient markers so "rate limited by server (502
// fallback)" style texts stay terminal.
var terminalMarkers = []string{
	"rate limit",
	"not found",
	"unauthorized",
	"forbidden",
	"invalid",
	"bad request",
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"network",
	"temporarily unavailable",
	"eof",
	"502",
	"503",
	"server error",
}

// IsTransient classifies an error as retryable by its text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, m := range terminalMarkers {
		if strings.Contains(s, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
