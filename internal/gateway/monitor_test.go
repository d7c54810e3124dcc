package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/rockgate/internal/accounts"
	"github.com/nextlevelbuilder/rockgate/internal/bus"
	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/policy"
	"github.com/nextlevelbuilder/rockgate/internal/webhook"
)

// spyPolicy counts admission-step invocations.
type spyPolicy struct {
	calls    int
	decision policy.Decision
}

func (s *spyPolicy) Evaluate(context.Context, accounts.Resolved, *bus.InboundMessage) policy.Decision {
	s.calls++
	return s.decision
}

func testAccount() accounts.Resolved {
	a := accounts.Resolved{AccountID: "default", Configured: true, Enabled: true}
	a.ServerURL = "https://chat.example.com"
	a.APIKey = "tok"
	a.BotUserID = "bot1"
	return a
}

func newInboundMonitor(t *testing.T, spy *spyPolicy) (*monitor, bus.Router) {
	t.Helper()
	b := bus.New()
	m, err := newMonitor(testAccount(), monitorDeps{
		bus:      b,
		webhooks: webhook.NewRegistry(),
		policy:   spy,
		status:   NewStatusTracker(),
	})
	if err != nil {
		t.Fatalf("newMonitor: %v", err)
	}
	return m, b
}

func inbound(sender string) *bus.InboundMessage {
	return &bus.InboundMessage{
		ID: "m1", AccountID: "default", FromUserID: sender, ToTarget: "@" + sender, Content: "hi",
	}
}

func TestHandleInbound_AdmittedReachesBus(t *testing.T) {
	spy := &spyPolicy{decision: policy.Decision{Admitted: true}}
	m, b := newInboundMonitor(t, spy)

	m.handleInbound(context.Background(), inbound("alice"), "push")

	if spy.calls != 1 {
		t.Errorf("policy calls = %d", spy.calls)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok || msg.FromUserID != "alice" {
		t.Errorf("bus message = %+v ok=%v", msg, ok)
	}
}

func TestHandleInbound_DroppedNeverPublished(t *testing.T) {
	spy := &spyPolicy{decision: policy.Decision{Reason: policy.DropDMNotAllowed}}
	m, b := newInboundMonitor(t, spy)

	m.handleInbound(context.Background(), inbound("stranger"), "webhook")

	if spy.calls != 1 {
		t.Errorf("policy calls = %d", spy.calls)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("dropped message reached the bus")
	}
}

func TestHandleInbound_SelfMessageSkipsPolicy(t *testing.T) {
	spy := &spyPolicy{decision: policy.Decision{Admitted: true}}
	m, b := newInboundMonitor(t, spy)

	// Sender matches the account's bot identity.
	m.handleInbound(context.Background(), inbound("bot1"), "push")

	if spy.calls != 0 {
		t.Errorf("self message reached the admission step: calls = %d", spy.calls)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("self message reached the bus")
	}
}

func TestHandleInbound_RecordsStatus(t *testing.T) {
	spy := &spyPolicy{decision: policy.Decision{Admitted: true}}
	m, _ := newInboundMonitor(t, spy)

	m.handleInbound(context.Background(), inbound("alice"), "push")

	st := m.deps.status.Account("default")
	if st.LastInboundAt == nil {
		t.Error("inbound activity not stamped")
	}
}

func TestStartMonitors_SkipsUnusableAccounts(t *testing.T) {
	cfg := config.Default()
	// Default account lacks credentials; named account is complete.
	cfg.Rocket.Accounts = map[string]config.AccountConfig{
		"ops": {ServerURL: "https://chat.example.com", APIKey: "tok"},
	}

	s := New(cfg, Options{})

	// A cancelled context lets the spawned monitors unwind immediately
	// without dialing anywhere.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	s.startMonitors(ctx, &wg)
	wg.Wait()

	if s.monitorFor("ops") == nil {
		t.Error("configured account not started")
	}
	if s.monitorFor("default") != nil {
		t.Error("unconfigured default account started")
	}
}
