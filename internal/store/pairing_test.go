package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *PairingStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pairing.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRequestPairing_OneOutstanding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, created, err := s.RequestPairing(ctx, "default", "alice")
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}
	if !created || len(code) != codeLength {
		t.Fatalf("created=%v code=%q", created, code)
	}

	// Second request while outstanding is suppressed.
	code2, created2, err := s.RequestPairing(ctx, "default", "alice")
	if err != nil {
		t.Fatalf("second RequestPairing: %v", err)
	}
	if created2 || code2 != "" {
		t.Errorf("re-trigger not suppressed: created=%v code=%q", created2, code2)
	}

	pending, err := s.HasPending(ctx, "default", "alice")
	if err != nil || !pending {
		t.Errorf("HasPending = %v, %v", pending, err)
	}
}

func TestRequestPairing_ExpiryAllowsRetrigger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	first, _, err := s.RequestPairing(ctx, "default", "alice")
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}

	s.now = func() time.Time { return now.Add(25 * time.Hour) }

	second, created, err := s.RequestPairing(ctx, "default", "alice")
	if err != nil {
		t.Fatalf("post-expiry RequestPairing: %v", err)
	}
	if !created {
		t.Fatal("expired request must allow a new one")
	}
	if second == first {
		t.Error("new request reused the old code")
	}

	if pending, _ := s.HasPending(ctx, "default", "alice"); !pending {
		t.Error("fresh request not pending")
	}
}

func TestApprove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, _, err := s.RequestPairing(ctx, "default", "alice")
	if err != nil {
		t.Fatalf("RequestPairing: %v", err)
	}

	if paired, _ := s.IsPaired(ctx, "default", "alice"); paired {
		t.Fatal("unapproved sender reported paired")
	}

	p, err := s.Approve(ctx, code)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if p.AccountID != "default" || p.UserID != "alice" || !p.Approved || p.ApprovedAt == nil {
		t.Errorf("record = %+v", p)
	}

	paired, err := s.IsPaired(ctx, "default", "alice")
	if err != nil || !paired {
		t.Errorf("IsPaired = %v, %v", paired, err)
	}

	// A used code cannot be approved twice.
	if _, err := s.Approve(ctx, code); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("second approve err = %v", err)
	}
	if _, err := s.Approve(ctx, "NOSUCH"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("unknown code err = %v", err)
	}

	// Approved senders do not re-trigger requests.
	if _, created, _ := s.RequestPairing(ctx, "default", "alice"); created {
		t.Error("approved sender created a new request")
	}
}

func TestRevoke(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, _, _ := s.RequestPairing(ctx, "default", "alice")
	if _, err := s.Approve(ctx, code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := s.Revoke(ctx, "default", "alice"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if paired, _ := s.IsPaired(ctx, "default", "alice"); paired {
		t.Error("revoked sender still paired")
	}
	if err := s.Revoke(ctx, "default", "alice"); err == nil {
		t.Error("revoking absent record must error")
	}
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	s.now = func() time.Time { return base }
	s.RequestPairing(ctx, "default", "alice")
	s.now = func() time.Time { return base.Add(time.Minute) }
	s.RequestPairing(ctx, "default", "bob")
	s.RequestPairing(ctx, "ops", "carol")

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d records", len(all))
	}

	def, err := s.List(ctx, "default")
	if err != nil {
		t.Fatalf("List default: %v", err)
	}
	if len(def) != 2 {
		t.Fatalf("default = %d records", len(def))
	}
	if def[0].UserID != "bob" {
		t.Errorf("newest first expected, got %s", def[0].UserID)
	}
}

func TestAccountsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, _, _ := s.RequestPairing(ctx, "default", "alice")
	if _, err := s.Approve(ctx, code); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if paired, _ := s.IsPaired(ctx, "ops", "alice"); paired {
		t.Error("pairing leaked across accounts")
	}
}
