package gateway

import (
	"sync"
	"time"
)

// AccountStatus is one account's runtime snapshot, consumed by the status
// endpoint and CLI.
type AccountStatus struct {
	AccountID  string `json:"account_id"`
	Configured bool   `json:"configured"`
	Enabled    bool   `json:"enabled"`
	Running    bool   `json:"running"`

	Connected        bool   `json:"connected"`
	ReconnectAttempt int    `json:"reconnect_attempt,omitempty"`
	LastError        string `json:"last_error,omitempty"`

	LastStartAt    *time.Time `json:"last_start_at,omitempty"`
	LastStopAt     *time.Time `json:"last_stop_at,omitempty"`
	LastInboundAt  *time.Time `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time `json:"last_outbound_at,omitempty"`
}

// StatusTracker holds per-account runtime state for the process lifetime.
// Entries are created lazily on first touch.
type StatusTracker struct {
	mu       sync.RWMutex
	accounts map[string]*AccountStatus
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{accounts: make(map[string]*AccountStatus)}
}

func (t *StatusTracker) entry(accountID string) *AccountStatus {
	st, ok := t.accounts[accountID]
	if !ok {
		st = &AccountStatus{AccountID: accountID}
		t.accounts[accountID] = st
	}
	return st
}

// MarkStarted records a monitor start.
func (t *StatusTracker) MarkStarted(accountID string, configured, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(accountID)
	now := time.Now()
	st.Running = true
	st.Configured = configured
	st.Enabled = enabled
	st.LastStartAt = &now
	st.LastError = ""
}

// MarkStopped records a monitor stop; err may be nil.
func (t *StatusTracker) MarkStopped(accountID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(accountID)
	now := time.Now()
	st.Running = false
	st.Connected = false
	st.LastStopAt = &now
	if err != nil {
		st.LastError = err.Error()
	}
}

// SetConnection records a connection state change from the push client.
func (t *StatusTracker) SetConnection(accountID string, connected bool, errText string, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.entry(accountID)
	st.Connected = connected
	st.ReconnectAttempt = attempt
	if connected {
		st.LastError = ""
	} else if errText != "" {
		st.LastError = errText
	}
}

// RecordInbound stamps inbound activity.
func (t *StatusTracker) RecordInbound(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.entry(accountID).LastInboundAt = &now
}

// RecordOutbound stamps outbound activity. Satisfies the delivery
// pipeline's recorder interface.
func (t *StatusTracker) RecordOutbound(accountID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.entry(accountID).LastOutboundAt = &now
}

// Account returns a copy of one account's status.
func (t *StatusTracker) Account(accountID string) AccountStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.accounts[accountID]; ok {
		return *st
	}
	return AccountStatus{AccountID: accountID}
}

// Snapshot returns a copy of all tracked accounts.
func (t *StatusTracker) Snapshot() []AccountStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]AccountStatus, 0, len(t.accounts))
	for _, st := range t.accounts {
		out = append(out, *st)
	}
	return out
}
