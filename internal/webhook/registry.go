// Package webhook receives server-pushed events over HTTP and converts them
// into canonical inbound messages. One path can serve several accounts; a
// per-request account hint picks the registration.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/rockgate/internal/bus"
	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/rocket"
)

const (
	maxBodyBytes = 1 << 20 // 1 MiB

	// AccountHeader carries the account hint when the server cannot put it
	// in the payload.
	AccountHeader = "X-Gateway-Account"
)

// Handler consumes one canonical message for a registered account.
type Handler func(msg *bus.InboundMessage) error

// Registration binds an account to a webhook path.
type Registration struct {
	AccountID string
	Handler   Handler
}

// Registry maps normalized HTTP paths to the accounts listening on them.
// Request dispatch reads concurrently; account start/stop writes.
type Registry struct {
	mu    sync.RWMutex
	paths map[string][]Registration
}

// NewRegistry creates an empty webhook registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string][]Registration)}
}

// NormalizePath forces a single leading slash and strips trailing slashes.
// Lookup stays case-sensitive.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = "/" + strings.Trim(p, "/")
	return p
}

// DefaultPath returns the conventional webhook path for an account:
// /webhook/rocketchat for the default account, /webhook/rocketchat/<id>
// otherwise.
func DefaultPath(accountID string) string {
	if accountID == "" || accountID == config.DefaultAccountID {
		return "/webhook/rocketchat"
	}
	return "/webhook/rocketchat/" + accountID
}

// Register adds an account's handler under path and returns the normalized
// path. Re-registering an account on the same path replaces its handler.
func (r *Registry) Register(path, accountID string, h Handler) string {
	p := NormalizePath(path)
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.paths[p]
	for i, reg := range regs {
		if reg.AccountID == accountID {
			regs[i].Handler = h
			return p
		}
	}
	r.paths[p] = append(regs, Registration{AccountID: accountID, Handler: h})
	return p
}

// Unregister removes an account from a path. Removing the last account
// removes the path entry.
func (r *Registry) Unregister(path, accountID string) {
	p := NormalizePath(path)
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.paths[p]
	for i, reg := range regs {
		if reg.AccountID == accountID {
			regs = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(r.paths, p)
	} else {
		r.paths[p] = regs
	}
}

// lookup returns a copy of the registrations for a path.
func (r *Registry) lookup(path string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.paths[path]
	if len(regs) == 0 {
		return nil
	}
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// Handle processes one HTTP request. Returns false without touching the
// response when the path has no registrations, so an outer router can try
// other handlers.
func (r *Registry) Handle(w http.ResponseWriter, req *http.Request) bool {
	regs := r.lookup(NormalizePath(req.URL.Path))
	if len(regs) == 0 {
		return false
	}

	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return true
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return true
	}

	var ev rocket.RawEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return true
	}

	selected, hint := selectRegistrations(regs, accountHint(req, &ev))
	if len(selected) == 0 {
		slog.Warn("webhook account hint matched no registration",
			"path", req.URL.Path, "hint", hint)
		http.Error(w, "unknown account", http.StatusNotFound)
		return true
	}

	// Registrations are processed independently; one account's failure
	// never blocks another's, and the request still acks.
	now := time.Now()
	for _, reg := range selected {
		dispatch(reg, &ev, now)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "accounts": len(selected)})
	return true
}

// ServeHTTP adapts the registry to http.Handler, answering 404 for paths
// with no registrations.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.Handle(w, req) {
		http.NotFound(w, req)
	}
}

// accountHint reads the account id in precedence order: query parameter,
// header, payload field.
func accountHint(req *http.Request, ev *rocket.RawEvent) string {
	if v := req.URL.Query().Get("account"); v != "" {
		return v
	}
	if v := req.Header.Get(AccountHeader); v != "" {
		return v
	}
	return ev.AccountHint()
}

// selectRegistrations applies the disambiguation rules: an explicit hint
// routes to its registration only; no hint with a single registration uses
// it; with several, the default account wins, else the first registered.
func selectRegistrations(regs []Registration, hint string) ([]Registration, string) {
	if hint != "" {
		for _, reg := range regs {
			if reg.AccountID == hint {
				return []Registration{reg}, hint
			}
		}
		return nil, hint
	}
	if len(regs) == 1 {
		return regs, ""
	}
	for _, reg := range regs {
		if reg.AccountID == config.DefaultAccountID {
			return []Registration{reg}, ""
		}
	}
	return regs[:1], ""
}

func dispatch(reg Registration, ev *rocket.RawEvent, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("webhook handler panic", "account", reg.AccountID, "panic", p)
		}
	}()

	msg, reason := ev.ToInbound(reg.AccountID, now, true)
	if msg == nil {
		slog.Debug("webhook payload skipped", "account", reg.AccountID, "reason", reason)
		return
	}
	if err := reg.Handler(msg); err != nil {
		slog.Warn("webhook message handling failed",
			"account", reg.AccountID, "message_id", msg.ID, "error", err)
	}
}
