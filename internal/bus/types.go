// Package bus carries canonical messages between the gateway transports and
// the agent runtime. Inbound messages are normalized before publication; the
// consumer side is the per-account monitor loop.
package bus

import "context"

// Attachment describes a file carried by an inbound message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// InboundMessage is the transport-independent form of one chat message.
// Exactly one of Content or Attachments must be non-empty; messages that
// satisfy neither are discarded before policy evaluation.
type InboundMessage struct {
	ID          string       `json:"id"`
	AccountID   string       `json:"account_id"`
	FromUserID  string       `json:"from_user_id"`
	ToTarget    string       `json:"to_target"` // normalized "@user" or "#group"
	Content     string       `json:"content"`
	Timestamp   int64        `json:"timestamp"` // epoch ms
	RoomID      string       `json:"room_id,omitempty"`
	ThreadID    string       `json:"thread_id,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	SenderName  string       `json:"sender_name,omitempty"`
	SelfUserID  string       `json:"self_user_id,omitempty"` // connection's own identity as reported by the payload
	IsGroup     bool         `json:"is_group"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HasPayload reports whether the message carries text or attachments.
func (m *InboundMessage) HasPayload() bool {
	return m.Content != "" || len(m.Attachments) > 0
}

// OutboundMessage is an agent reply headed back to the chat server.
type OutboundMessage struct {
	AccountID string            `json:"account_id"`
	Target    string            `json:"target"` // free-form, normalized by the delivery pipeline
	Content   string            `json:"content"`
	ThreadID  string            `json:"thread_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Router routes inbound/outbound messages between the gateway and the agent
// runtime. The concrete implementation is the in-process MessageBus; tests
// substitute fakes.
type Router interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
}
