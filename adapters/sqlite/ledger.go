package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/usage"
	"github.com/artpar/speechquota/ports"
)

const backend = "sqlite"

// Ledger implements ports.CappedLedger using SQLite.
// Every increment is a single upsert statement, so concurrent writers to the
// same key serialize inside SQLite and never lose updates.
type Ledger struct {
	db    *DB
	clock ports.Clock
}

// NewLedger creates a new SQLite ledger. A nil clock uses the system clock.
func NewLedger(db *DB, clk ports.Clock) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{db: db, clock: clk}
}

// Read returns the record for the key, or a zero record if none exists.
func (l *Ledger) Read(ctx context.Context, accountID, periodKey string) (usage.Record, error) {
	rec := usage.Record{AccountID: accountID, PeriodKey: periodKey}
	var updatedAt int64

	err := l.db.QueryRowContext(ctx, `
		SELECT characters_used, requests_count, updated_at
		FROM usage_records
		WHERE account_id = ? AND period_key = ?
	`, accountID, periodKey).Scan(&rec.CharactersUsed, &rec.RequestsCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return usage.Record{}, ports.NewStorageError(backend, "read", err)
	}

	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

// TryConsume atomically adds chars to the counter.
func (l *Ledger) TryConsume(ctx context.Context, accountID, periodKey string, chars int64) (ports.ConsumeResult, error) {
	if chars < 0 {
		return ports.ConsumeResult{}, ports.ErrInvalidAmount
	}
	if chars == 0 {
		return l.current(ctx, accountID, periodKey, true)
	}

	rec := usage.Record{AccountID: accountID, PeriodKey: periodKey}
	var updatedAt int64

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (account_id, period_key, characters_used, requests_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(account_id, period_key) DO UPDATE SET
			characters_used = characters_used + excluded.characters_used,
			requests_count = requests_count + 1,
			updated_at = excluded.updated_at
		RETURNING characters_used, requests_count, updated_at
	`, accountID, periodKey, chars, l.clock.Now().UnixMilli()).Scan(&rec.CharactersUsed, &rec.RequestsCount, &updatedAt)
	if err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume", err)
	}

	rec.UpdatedAt = fromMillis(updatedAt)
	return ports.ConsumeResult{Accepted: true, Record: rec}, nil
}

// TryConsumeWithin adds chars only if the result stays within limit.
// The cap check is part of the upsert's conflict clause.
func (l *Ledger) TryConsumeWithin(ctx context.Context, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	if chars < 0 {
		return ports.ConsumeResult{}, ports.ErrInvalidAmount
	}
	if chars == 0 {
		return l.current(ctx, accountID, periodKey, true)
	}
	if chars > limit {
		return l.current(ctx, accountID, periodKey, false)
	}

	rec := usage.Record{AccountID: accountID, PeriodKey: periodKey}
	var updatedAt int64

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (account_id, period_key, characters_used, requests_count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(account_id, period_key) DO UPDATE SET
			characters_used = characters_used + excluded.characters_used,
			requests_count = requests_count + 1,
			updated_at = excluded.updated_at
		WHERE usage_records.characters_used + excluded.characters_used <= ?
		RETURNING characters_used, requests_count, updated_at
	`, accountID, periodKey, chars, l.clock.Now().UnixMilli(), limit).Scan(&rec.CharactersUsed, &rec.RequestsCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l.current(ctx, accountID, periodKey, false)
	}
	if err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume", err)
	}

	rec.UpdatedAt = fromMillis(updatedAt)
	return ports.ConsumeResult{Accepted: true, Record: rec}, nil
}

func (l *Ledger) current(ctx context.Context, accountID, periodKey string, accepted bool) (ports.ConsumeResult, error) {
	rec, err := l.Read(ctx, accountID, periodKey)
	if err != nil {
		return ports.ConsumeResult{}, err
	}
	return ports.ConsumeResult{Accepted: accepted, Record: rec}, nil
}

// Prune deletes records of periods older than the period containing before.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM usage_records
		WHERE (length(period_key) = 10 AND period_key < ?)
		   OR (length(period_key) = 7 AND period_key < ?)
	`, period.Key(period.Daily, before), period.Key(period.Monthly, before))
	if err != nil {
		return 0, ports.NewStorageError(backend, "prune", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, ports.NewStorageError(backend, "prune", err)
	}
	return n, nil
}

// Ensure interface compliance.
var (
	_ ports.CappedLedger = (*Ledger)(nil)
	_ ports.LedgerPruner = (*Ledger)(nil)
)
