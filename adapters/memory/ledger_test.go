package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/adapters/ledgertest"
	"github.com/artpar/speechquota/adapters/memory"
	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/ports"
)

func TestLedger_Contract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Ledger {
		l := memory.NewLedger(memory.LedgerConfig{})
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestLedger_ReadDoesNotCreate(t *testing.T) {
	l := memory.NewLedger(memory.LedgerConfig{})
	defer l.Close()

	if _, err := l.Read(context.Background(), "acct-1", "2024-03-15"); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after read", l.Len())
	}
}

func TestLedger_UpdatedAtFromClock(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	l := memory.NewLedger(memory.LedgerConfig{Clock: clock.NewFake(now)})
	defer l.Close()

	res, err := l.TryConsume(context.Background(), "acct-1", "2024-03-15", 5)
	if err != nil {
		t.Fatalf("TryConsume error: %v", err)
	}
	if !res.Record.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", res.Record.UpdatedAt, now)
	}
}

func TestLedger_CancelledContext(t *testing.T) {
	l := memory.NewLedger(memory.LedgerConfig{})
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.TryConsume(ctx, "acct-1", "2024-03-15", 5)
	if !errors.Is(err, ports.ErrStorageUnavailable) {
		t.Errorf("TryConsume error = %v, want ErrStorageUnavailable", err)
	}
	if l.Len() != 0 {
		t.Error("failed consume must not write")
	}
}

func TestLedger_CloseTwice(t *testing.T) {
	l := memory.NewLedger(memory.LedgerConfig{NumShards: 4, CleanupInterval: time.Second})
	if err := l.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}

func TestSubscriptionStore(t *testing.T) {
	s := memory.NewSubscriptionStore()
	ctx := context.Background()

	if _, err := s.GetByAccount(ctx, "acct-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("GetByAccount error = %v, want ErrNotFound", err)
	}

	s.Put(billing.Subscription{AccountID: "acct-1", PlanID: "pro", Status: billing.SubscriptionStatusActive})
	sub, err := s.GetByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetByAccount error: %v", err)
	}
	if sub.PlanID != "pro" {
		t.Errorf("PlanID = %s, want pro", sub.PlanID)
	}

	s.Delete("acct-1")
	if _, err := s.GetByAccount(ctx, "acct-1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("after Delete error = %v, want ErrNotFound", err)
	}
}
