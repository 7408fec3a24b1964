// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks at a fixed interval until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Storage Ports
// -----------------------------------------------------------------------------

// ConsumeResult is the outcome of a ledger increment.
type ConsumeResult struct {
	Accepted bool
	Record   usage.Record // State after the call
}

// Ledger persists per-account, per-period character counters.
// Operations on the same (account, period key) are linearizable;
// operations on different keys never serialize against each other.
type Ledger interface {
	// Read returns the record for the key, or a zero record if none exists.
	// It never creates a record.
	Read(ctx context.Context, accountID, periodKey string) (usage.Record, error)

	// TryConsume atomically adds chars to the counter and increments the
	// request count. chars == 0 returns the current record unchanged.
	TryConsume(ctx context.Context, accountID, periodKey string, chars int64) (ConsumeResult, error)
}

// CappedLedger is a Ledger that can enforce a cap inside the atomic increment.
type CappedLedger interface {
	Ledger

	// TryConsumeWithin adds chars only if the resulting total is <= limit.
	// A rejected increment returns Accepted=false and the unchanged record.
	TryConsumeWithin(ctx context.Context, accountID, periodKey string, chars, limit int64) (ConsumeResult, error)
}

// LedgerPruner removes records of periods that are over.
type LedgerPruner interface {
	// Prune deletes records whose period is older than the period containing before.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SubscriptionStore reads account subscriptions.
// Managed by the billing system; quota code never writes through it.
type SubscriptionStore interface {
	// GetByAccount returns the most recent subscription for an account,
	// or ErrNotFound when the account has none.
	GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error)
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// QuotaMetrics records admission outcomes.
type QuotaMetrics interface {
	RecordAdmission(planID, outcome string, chars int64, waitSeconds int)
	RecordLedgerError(op string)
	WaitStarted()
	WaitFinished()
}
