package rocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotAuth string
	var gotBody postMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"message": map[string]string{"_id": "srv1"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{APIKey: "tok"})
	id, err := c.SendMessage(context.Background(), "#general", "hello", SendOptions{ThreadID: "th1"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != "srv1" {
		t.Errorf("id = %q", id)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Channel != "#general" || gotBody.Text != "hello" || gotBody.ThreadID != "th1" {
		t.Errorf("request body = %+v", gotBody)
	}
}

func TestSendMessage_BasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": map[string]string{"_id": "x"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{Username: "bot", Password: "pw"})
	if _, err := c.SendMessage(context.Background(), "@alice", "hi", SendOptions{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !ok || user != "bot" || pass != "pw" {
		t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"auth failure", http.StatusUnauthorized, "", "unauthorized (401)"},
		{"rate limited", http.StatusTooManyRequests, "", "rate limited by server (429)"},
		{"server error", http.StatusBadGateway, "", "server error (502)"},
		{"api rejection", http.StatusOK, `{"success":false,"error":"room not found"}`, "send rejected: room not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					return
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, Credentials{APIKey: "t"})
			_, err := c.SendMessage(context.Background(), "@u", "x", SendOptions{})
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestSendMessage_EmptyText(t *testing.T) {
	c := NewClient("http://example.invalid", Credentials{APIKey: "t"})
	if _, err := c.SendMessage(context.Background(), "@u", "", SendOptions{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestFetchMedia_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Credentials{APIKey: "t"})
	if _, _, err := c.FetchMedia(context.Background(), "/file-upload/a/b.png", 1024); err == nil {
		t.Fatal("expected size cap error")
	}

	data, ct, err := c.FetchMedia(context.Background(), "/file-upload/a/b.png", 4096)
	if err != nil {
		t.Fatalf("FetchMedia: %v", err)
	}
	if len(data) != 2048 || ct != "image/png" {
		t.Errorf("got %d bytes, content type %q", len(data), ct)
	}
}

func TestDeriveWSURL(t *testing.T) {
	tests := []struct {
		name      string
		serverURL string
		wsURL     string
		token     string
		want      string
		wantErr   bool
	}{
		{"https upgraded", "https://chat.example.com", "", "", "wss://chat.example.com/websocket", false},
		{"http upgraded", "http://chat.example.com", "", "", "ws://chat.example.com/websocket", false},
		{"trailing slash", "https://chat.example.com/", "", "", "wss://chat.example.com/websocket", false},
		{"subpath kept", "https://chat.example.com/rocket", "", "", "wss://chat.example.com/rocket/websocket", false},
		{"explicit ws url wins", "https://chat.example.com", "wss://push.example.com/sock", "", "wss://push.example.com/sock", false},
		{"token attached", "https://chat.example.com", "", "tok1", "wss://chat.example.com/websocket?token=tok1", false},
		{"token on explicit url", "", "wss://push.example.com/sock", "tok1", "wss://push.example.com/sock?token=tok1", false},
		{"nothing to derive from", "", "", "", "", true},
		{"bad scheme", "ftp://chat.example.com", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveWSURL(tt.serverURL, tt.wsURL, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveWSURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
