package bus

import (
	"context"
	"log/slog"
)

const defaultQueueSize = 256

// MessageBus is a buffered in-process queue pair for inbound and outbound
// messages. Publishing never blocks: when a queue is full the message is
// dropped and logged, so a stalled consumer cannot back-pressure a socket
// read loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with the default queue depth.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultQueueSize),
		outbound: make(chan OutboundMessage, defaultQueueSize),
	}
}

// PublishInbound enqueues a canonical inbound message.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"account", msg.AccountID, "message_id", msg.ID)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
// Messages already queued are drained before cancellation is honored; the
// second return is false only when the queue was empty and ctx was done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	default:
	}
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound enqueues an agent reply for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"account", msg.AccountID, "target", msg.Target)
	}
}

// ConsumeOutbound blocks until an outbound message is available or ctx is
// done, draining queued messages first like ConsumeInbound.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	default:
	}
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

var _ Router = (*MessageBus)(nil)
