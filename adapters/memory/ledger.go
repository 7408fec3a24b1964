// Package memory provides in-memory implementations of storage ports.
// Suitable for single-instance deployments and tests.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/usage"
	"github.com/artpar/speechquota/ports"
)

// ledgerKey identifies one counter.
type ledgerKey struct {
	accountID string
	periodKey string
}

// ledgerShard is a single shard of the ledger.
type ledgerShard struct {
	mu      sync.RWMutex
	records map[ledgerKey]usage.Record
}

// Ledger is a sharded in-memory implementation of ports.CappedLedger.
// Each (account, period) key is serialized by its shard lock only.
type Ledger struct {
	shards    []*ledgerShard
	numShards int
	clock     ports.Clock
	retention time.Duration
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// LedgerConfig configures the in-memory ledger.
type LedgerConfig struct {
	NumShards       int           // Number of shards (default: 32)
	CleanupInterval time.Duration // How often to prune finished periods (default: 1h)
	Retention       time.Duration // How far back finished periods are kept (default: 24h)
	Clock           ports.Clock   // Default: clock.Real
}

// NewLedger creates a new sharded in-memory ledger.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	l := &Ledger{
		shards:    make([]*ledgerShard, cfg.NumShards),
		numShards: cfg.NumShards,
		clock:     cfg.Clock,
		retention: cfg.Retention,
		done:      make(chan struct{}),
	}

	for i := range l.shards {
		l.shards[i] = &ledgerShard{
			records: make(map[ledgerKey]usage.Record),
		}
	}

	// Start background cleanup
	l.cleanup = time.NewTicker(cfg.CleanupInterval)
	go l.cleanupLoop()

	return l
}

// getShard returns the shard for a given key using consistent hashing.
func (l *Ledger) getShard(k ledgerKey) *ledgerShard {
	h := fnv.New32a()
	h.Write([]byte(k.accountID))
	h.Write([]byte{0})
	h.Write([]byte(k.periodKey))
	return l.shards[h.Sum32()%uint32(l.numShards)]
}

// Read returns the record for the key, or a zero record if none exists.
func (l *Ledger) Read(ctx context.Context, accountID, periodKey string) (usage.Record, error) {
	if err := ctx.Err(); err != nil {
		return usage.Record{}, ports.NewStorageError("memory", "read", err)
	}

	k := ledgerKey{accountID, periodKey}
	shard := l.getShard(k)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	rec, ok := shard.records[k]
	if !ok {
		return usage.Record{AccountID: accountID, PeriodKey: periodKey}, nil
	}
	return rec, nil
}

// TryConsume atomically adds chars to the counter.
func (l *Ledger) TryConsume(ctx context.Context, accountID, periodKey string, chars int64) (ports.ConsumeResult, error) {
	return l.consume(ctx, accountID, periodKey, chars, -1)
}

// TryConsumeWithin adds chars only if the result stays within limit.
func (l *Ledger) TryConsumeWithin(ctx context.Context, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	return l.consume(ctx, accountID, periodKey, chars, limit)
}

// consume increments under the shard lock. limit < 0 means uncapped.
func (l *Ledger) consume(ctx context.Context, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	if chars < 0 {
		return ports.ConsumeResult{}, ports.ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError("memory", "consume", err)
	}

	k := ledgerKey{accountID, periodKey}
	shard := l.getShard(k)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[k]
	if !ok {
		rec = usage.Record{AccountID: accountID, PeriodKey: periodKey}
	}

	if chars == 0 {
		return ports.ConsumeResult{Accepted: true, Record: rec}, nil
	}
	if limit >= 0 && rec.CharactersUsed+chars > limit {
		return ports.ConsumeResult{Accepted: false, Record: rec}, nil
	}

	rec.CharactersUsed += chars
	rec.RequestsCount++
	rec.UpdatedAt = l.clock.Now().UTC()
	shard.records[k] = rec

	return ports.ConsumeResult{Accepted: true, Record: rec}, nil
}

// Prune deletes records of periods older than the period containing before.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := map[period.Kind]string{
		period.Daily:   period.Key(period.Daily, before),
		period.Monthly: period.Key(period.Monthly, before),
	}

	var removed int64
	for _, shard := range l.shards {
		if err := ctx.Err(); err != nil {
			return removed, ports.NewStorageError("memory", "prune", err)
		}
		shard.mu.Lock()
		for k := range shard.records {
			kind, ok := period.KindOfKey(k.periodKey)
			if ok && k.periodKey < cutoff[kind] {
				delete(shard.records, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed, nil
}

// cleanupLoop periodically removes finished periods.
func (l *Ledger) cleanupLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.Prune(context.Background(), l.clock.Now().Add(-l.retention))
		case <-l.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of records across all shards (for testing).
func (l *Ledger) Len() int {
	total := 0
	for _, shard := range l.shards {
		shard.mu.RLock()
		total += len(shard.records)
		shard.mu.RUnlock()
	}
	return total
}

// Ensure interface compliance.
var (
	_ ports.CappedLedger = (*Ledger)(nil)
	_ ports.LedgerPruner = (*Ledger)(nil)
)
