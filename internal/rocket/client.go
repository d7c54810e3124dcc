// Package rocket implements the wire protocol against a Rocket.Chat-style
// server: an authenticated REST client for outbound calls and a persistent
// websocket connection for inbound push events.
package rocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/rockgate/internal/bus"
)

const (
	sendEndpoint  = "/api/v1/chat.postMessage"
	defaultAPIRPS = 5
	apiBurst      = 10
)

// Credentials selects exactly one auth scheme: a bearer token, or
// username+password for basic auth.
type Credentials struct {
	APIKey   string
	Username string
	Password string
}

// Client is a lightweight REST client for the chat server using net/http.
// Outbound calls are paced by a token-bucket limiter so bursts of agent
// replies cannot trip the server's API limits.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a REST client for serverURL.
func NewClient(serverURL string, creds Credentials) *Client {
	return &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(defaultAPIRPS), apiBurst),
	}
}

// SendOptions carries optional send parameters. Attachments are accepted on
// the struct so callers can express intent, but the send path is text-only
// and rejects them before the API call.
type SendOptions struct {
	ThreadID    string
	Attachments []bus.Attachment
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadID string `json:"tmid,omitempty"`
}

type postMessageResponse struct {
	Success bool `json:"success"`
	Message struct {
		ID string `json:"_id"`
	} `json:"message"`
	Error string `json:"error"`
}

// SendMessage posts a text message to a normalized target ("@user" or
// "#group") and returns the server-assigned message id.
func (c *Client) SendMessage(ctx context.Context, target, text string, opts SendOptions) (string, error) {
	if text == "" {
		return "", fmt.Errorf("message text cannot be empty")
	}

	reqBody := postMessageRequest{Channel: target, Text: text, ThreadID: opts.ThreadID}
	var resp postMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, sendEndpoint, reqBody, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("send rejected: %s", resp.Error)
	}
	return resp.Message.ID, nil
}

// FetchMedia downloads an attachment URL through the authenticated client,
// refusing bodies larger than maxBytes.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string, maxBytes int64) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	u := mediaURL
	if strings.HasPrefix(u, "/") {
		u = c.baseURL + u
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("media too large: exceeds %d bytes", maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// setAuth applies the bearer or basic scheme derived from the credentials.
func (c *Client) setAuth(req *http.Request) {
	if c.creds.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.APIKey)
		return
	}
	if c.creds.Username != "" {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
}

// statusError maps HTTP status codes to errors whose text the delivery
// pipeline classifies as retryable or terminal.
func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return fmt.Errorf("unauthorized (401)")
	case http.StatusForbidden:
		return fmt.Errorf("forbidden (403)")
	case http.StatusNotFound:
		return fmt.Errorf("not found (404)")
	case http.StatusBadRequest:
		return fmt.Errorf("invalid request (400)")
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited by server (429)")
	}
	if code >= 500 {
		return fmt.Errorf("server error (%d)", code)
	}
	return fmt.Errorf("unexpected status %d", code)
}

// DeriveWSURL returns the push-connection endpoint for an account: the
// explicit wsURL when set, otherwise the server URL with its scheme upgraded
// (http→ws, https→wss), path /websocket and the credential token attached
// as a query parameter.
func DeriveWSURL(serverURL, wsURL, token string) (string, error) {
	raw := wsURL
	if raw == "" {
		if serverURL == "" {
			return "", fmt.Errorf("no server URL to derive websocket endpoint from")
		}
		u, err := url.Parse(serverURL)
		if err != nil {
			return "", fmt.Errorf("parse server URL: %w", err)
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		case "ws", "wss":
			// already a websocket URL
		default:
			return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
		}
		u.Path = strings.TrimRight(u.Path, "/") + "/websocket"
		raw = u.String()
	}

	if token == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse ws URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
