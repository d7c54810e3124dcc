package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/rockgate/internal/accounts"
	"github.com/nextlevelbuilder/rockgate/internal/bus"
	"github.com/nextlevelbuilder/rockgate/internal/delivery"
	"github.com/nextlevelbuilder/rockgate/internal/policy"
	"github.com/nextlevelbuilder/rockgate/internal/rocket"
	"github.com/nextlevelbuilder/rockgate/internal/webhook"
)

var tracer = otel.Tracer("rockgate/gateway")

// policyEvaluator is the admission step. Satisfied by policy.Engine; tests
// substitute a spy.
type policyEvaluator interface {
	Evaluate(ctx context.Context, acct accounts.Resolved, msg *bus.InboundMessage) policy.Decision
}

// monitorDeps are the shared collaborators handed to each account monitor.
type monitorDeps struct {
	bus      bus.Router
	webhooks *webhook.Registry
	policy   policyEvaluator
	status   *StatusTracker
}

// monitor owns one account's connection client, webhook registration and
// delivery pipeline for the account's lifetime.
type monitor struct {
	acct     accounts.Resolved
	conn     *rocket.Conn
	pipeline *delivery.Pipeline
	deps     monitorDeps
}

func newMonitor(acct accounts.Resolved, deps monitorDeps) (*monitor, error) {
	client := rocket.NewClient(acct.ServerURL, rocket.Credentials{
		APIKey:   acct.APIKey,
		Username: acct.Username,
		Password: acct.Password,
	})

	wsURL, err := rocket.DeriveWSURL(acct.ServerURL, acct.WSURL, acct.APIKey)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", acct.AccountID, err)
	}

	conn := rocket.NewConn(rocket.ConnConfig{
		AccountID: acct.AccountID,
		WSURL:     wsURL,
		Client:    client,
	})

	return &monitor{
		acct:     acct,
		conn:     conn,
		pipeline: delivery.NewPipeline(acct.AccountID, conn, deps.status),
		deps:     deps,
	}, nil
}

// run is the account's lifecycle: register the webhook, open the push
// connection, pump messages and status until cancelled, then unwind.
// Returns only on cancellation; connect failures are recovered by the
// connection client's own reconnect.
func (m *monitor) run(ctx context.Context) {
	id := m.acct.AccountID
	m.deps.status.MarkStarted(id, m.acct.Configured, m.acct.Enabled)
	slog.Info("account monitor started", "account", id)

	path := m.acct.WebhookPath
	if path == "" {
		path = webhook.DefaultPath(id)
	}
	registered := m.deps.webhooks.Register(path, id, func(msg *bus.InboundMessage) error {
		m.handleInbound(ctx, msg, "webhook")
		return nil
	})

	defer func() {
		m.deps.webhooks.Unregister(registered, id)
		m.conn.Disconnect()
		m.deps.status.MarkStopped(id, nil)
		slog.Info("account monitor stopped", "account", id)
	}()

	if err := m.conn.Connect(ctx); err != nil {
		// The client keeps reconnecting on its own; record and carry on.
		slog.Warn("initial connect failed", "account", id, "error", err)
		m.deps.status.SetConnection(id, false, err.Error(), 1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.pumpMessages(ctx)
	}()
	go func() {
		defer wg.Done()
		m.pumpStatus(ctx)
	}()

	<-ctx.Done()
	m.conn.Disconnect()
	wg.Wait()
}

func (m *monitor) pumpMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.conn.Messages():
			m.handleInbound(ctx, &msg, "push")
		}
	}
}

func (m *monitor) pumpStatus(ctx context.Context) {
	id := m.acct.AccountID
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.conn.Status():
			m.deps.status.SetConnection(id, ev.Connected, ev.Err, ev.Attempt)
			if !ev.Connected {
				connectionDrops.WithLabelValues(id).Inc()
			}
		}
	}
}

// handleInbound runs one message through self-filtering and policy, then
// publishes admitted messages to the bus.
func (m *monitor) handleInbound(ctx context.Context, msg *bus.InboundMessage, transport string) {
	id := m.acct.AccountID
	ctx, span := tracer.Start(ctx, "gateway.inbound", trace.WithAttributes(
		attribute.String("account", id),
		attribute.String("transport", transport),
		attribute.String("message.id", msg.ID),
	))
	defer span.End()

	m.deps.status.RecordInbound(id)
	inboundMessages.WithLabelValues(id, transport).Inc()

	if policy.IsSelf(m.acct, msg) {
		span.SetAttributes(attribute.String("drop", string(policy.DropSelfMessage)))
		return
	}

	decision := m.deps.policy.Evaluate(ctx, m.acct, msg)
	if !decision.Admitted {
		span.SetAttributes(attribute.String("drop", string(decision.Reason)))
		policyDrops.WithLabelValues(id, string(decision.Reason)).Inc()
		return
	}

	admittedMessages.WithLabelValues(id).Inc()
	m.deps.bus.PublishInbound(*msg)
}

// send delivers one outbound message through the account's pipeline.
func (m *monitor) send(ctx context.Context, msg bus.OutboundMessage) {
	id := m.acct.AccountID
	_, err := m.pipeline.SendWithRetry(ctx, msg.Target, msg.Content, rocket.SendOptions{
		ThreadID: msg.ThreadID,
	})
	if err != nil {
		outboundSends.WithLabelValues(id, "error").Inc()
		slog.Warn("outbound delivery failed", "account", id, "target", msg.Target, "error", err)
		return
	}
	outboundSends.WithLabelValues(id, "ok").Inc()
}
