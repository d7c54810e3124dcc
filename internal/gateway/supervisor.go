// Package gateway supervises the per-account monitors: one goroutine per
// enabled account owning its push connection and webhook registration, an
// outbound dispatcher feeding delivery pipelines, and the HTTP surface for
// webhooks, status and metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/rockgate/internal/accounts"
	"github.com/nextlevelbuilder/rockgate/internal/bus"
	"github.com/nextlevelbuilder/rockgate/internal/config"
	"github.com/nextlevelbuilder/rockgate/internal/policy"
	"github.com/nextlevelbuilder/rockgate/internal/rocket"
	"github.com/nextlevelbuilder/rockgate/internal/webhook"
)

// Options are the supervisor's pluggable collaborators. Bus defaults to an
// in-process MessageBus; the rest may be nil.
type Options struct {
	Bus      bus.Router
	Pairing  policy.PairingStore
	Mentions policy.MentionMatcher
	Commands policy.CommandMatcher
}

// Supervisor runs the gateway: account monitors, outbound dispatch, and the
// HTTP listeners.
type Supervisor struct {
	registry *webhook.Registry
	bus      bus.Router
	status   *StatusTracker
	engine   *policy.Engine

	mu       sync.RWMutex
	cfg      *config.Config
	monitors map[string]*monitor

	reloadCh chan *config.Config
}

// New creates a supervisor for cfg.
func New(cfg *config.Config, opts Options) *Supervisor {
	b := opts.Bus
	if b == nil {
		b = bus.New()
	}
	s := &Supervisor{
		registry: webhook.NewRegistry(),
		bus:      b,
		status:   NewStatusTracker(),
		cfg:      cfg,
		monitors: make(map[string]*monitor),
		reloadCh: make(chan *config.Config, 1),
	}
	s.engine = policy.NewEngine(opts.Pairing, opts.Mentions, opts.Commands, s)
	return s
}

// Bus returns the message bus, the seam to the agent runtime.
func (s *Supervisor) Bus() bus.Router { return s.bus }

// Status returns the runtime status tracker.
func (s *Supervisor) Status() *StatusTracker { return s.status }

// Reload swaps the configuration and restarts the account monitors. The
// HTTP listeners are unaffected.
func (s *Supervisor) Reload(cfg *config.Config) {
	select {
	case s.reloadCh <- cfg:
	default:
		// A reload is already queued; the queued one will pick up this
		// config on the next Reload call.
		slog.Warn("config reload already pending, dropping duplicate signal")
	}
}

// Run blocks until ctx is cancelled or a listener fails.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.serveHTTP(gctx) })
	if addr := s.currentConfig().Gateway.MetricsAddr; addr != "" {
		g.Go(func() error { return s.serveMetrics(gctx, addr) })
	}
	g.Go(func() error { return s.dispatchOutbound(gctx) })
	g.Go(func() error { s.runAccounts(gctx); return nil })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Supervisor) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// runAccounts starts one monitor per usable account and restarts them all
// on config reload. Returns when ctx is cancelled.
func (s *Supervisor) runAccounts(ctx context.Context) {
	for {
		inner, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		s.startMonitors(inner, &wg)

		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return
		case cfg := <-s.reloadCh:
			slog.Info("configuration changed, restarting account monitors")
			cancel()
			wg.Wait()
			s.mu.Lock()
			s.cfg = cfg
			s.mu.Unlock()
		}
	}
}

func (s *Supervisor) startMonitors(ctx context.Context, wg *sync.WaitGroup) {
	cfg := s.currentConfig()

	started := make(map[string]*monitor)
	for _, id := range cfg.AccountIDs() {
		acct := accounts.Resolve(cfg, id)
		if !acct.Enabled {
			slog.Info("account disabled, skipping", "account", id)
			continue
		}
		if err := acct.Validate(); err != nil {
			slog.Error("account misconfigured", "account", id, "error", err)
			continue
		}
		if !acct.Configured {
			slog.Warn("account not configured, skipping", "account", id)
			continue
		}

		m, err := newMonitor(acct, monitorDeps{
			bus:      s.bus,
			webhooks: s.registry,
			policy:   s.engine,
			status:   s.status,
		})
		if err != nil {
			slog.Error("account monitor setup failed", "account", id, "error", err)
			continue
		}
		started[id] = m

		wg.Add(1)
		go func() {
			defer wg.Done()
			m.run(ctx)
		}()
	}

	s.mu.Lock()
	s.monitors = started
	s.mu.Unlock()

	if len(started) == 0 {
		slog.Warn("no usable accounts configured")
	}
}

func (s *Supervisor) monitorFor(accountID string) *monitor {
	if accountID == "" {
		accountID = config.DefaultAccountID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitors[accountID]
}

// dispatchOutbound consumes agent replies from the bus and routes each to
// its account's delivery pipeline.
func (s *Supervisor) dispatchOutbound(ctx context.Context) error {
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return ctx.Err()
		}
		m := s.monitorFor(msg.AccountID)
		if m == nil {
			slog.Warn("outbound message for unknown account dropped",
				"account", msg.AccountID, "target", msg.Target)
			continue
		}
		m.send(ctx, msg)
	}
}

// SendReply delivers a policy-originated reply through the account's
// pipeline. Satisfies policy.ReplySender.
func (s *Supervisor) SendReply(ctx context.Context, accountID, targetID, content string) error {
	m := s.monitorFor(accountID)
	if m == nil {
		return fmt.Errorf("no running monitor for account %s", accountID)
	}
	_, err := m.pipeline.Send(ctx, targetID, content, rocket.SendOptions{})
	return err
}

// StatusReport merges tracked runtime state with resolver facts for every
// known account.
func (s *Supervisor) StatusReport() []AccountStatus {
	cfg := s.currentConfig()
	seen := make(map[string]bool)
	var out []AccountStatus

	for _, st := range s.status.Snapshot() {
		seen[st.AccountID] = true
		out = append(out, st)
	}
	for _, id := range cfg.AccountIDs() {
		if seen[id] {
			continue
		}
		acct := accounts.Resolve(cfg, id)
		out = append(out, AccountStatus{
			AccountID:  id,
			Configured: acct.Configured,
			Enabled:    acct.Enabled,
		})
	}
	return out
}

func (s *Supervisor) serveHTTP(ctx context.Context) error {
	cfg := s.currentConfig()
	addr := net.JoinHostPort(cfg.Gateway.Host, fmt.Sprintf("%d", cfg.Gateway.Port))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.registry.Handle(w, r) {
				return
			}
			mux.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway listener: %w", err)
	}
	return nil
}

func (s *Supervisor) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accounts": s.StatusReport()})
}
