package postgres

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

// recordRow maps usage_records columns.
type recordRow struct {
	CharactersUsed int64     `db:"characters_used"`
	RequestsCount  int64     `db:"requests_count"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r recordRow) toRecord(accountID, periodKey string) usage.Record {
	return usage.Record{
		AccountID:      accountID,
		PeriodKey:      periodKey,
		CharactersUsed: r.CharactersUsed,
		RequestsCount:  r.RequestsCount,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

const consumeQuery = `
	INSERT INTO usage_records (account_id, period_key, characters_used, requests_count, updated_at)
	VALUES ($1, $2, $3, 1, $4)
	ON CONFLICT (account_id, period_key) DO UPDATE SET
		characters_used = usage_records.characters_used + EXCLUDED.characters_used,
		requests_count = usage_records.requests_count + 1,
		updated_at = EXCLUDED.updated_at`

// Ledger implements ports.CappedLedger using PostgreSQL.
type Ledger struct {
	db    *DB
	clock ports.Clock
}

// NewLedger creates a new PostgreSQL ledger. A nil clock uses the system clock.
func NewLedger(db *DB, clk ports.Clock) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{db: db, clock: clk}
}

// Read returns the record for the key, or a zero record if none exists.
func (l *Ledger) Read(ctx context.Context, accountID, periodKey string) (usage.Record, error) {
	var row recordRow
	err := l.db.GetContext(ctx, &row, `
		SELECT characters_used, requests_count, updated_at
		FROM usage_records
		WHERE account_id = $1 AND period_key = $2
	`, accountID, periodKey)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.Record{AccountID: accountID, PeriodKey: periodKey}, nil
	}
	if err != nil {
		return usage.Record{}, ports.NewStorageError(backend, "read", err)
	}
	return row.toRecord(accountID, periodKey), nil
}

// TryConsume atomically adds chars to the counter.
func (l *Ledger) TryConsume(ctx context.Context, accountID, periodKey string, chars int64) (ports.ConsumeResult, error) {
	if chars < 0 {
		return ports.ConsumeResult{}, ports.ErrInvalidAmount
	}
	if chars == 0 {
		return l.current(ctx, accountID, periodKey, true)
	}

	var row recordRow
	err := l.db.GetContext(ctx, &row,
		consumeQuery+` RETURNING characters_used, requests_count, updated_at`,
		accountID, periodKey, chars, l.clock.Now().UTC())
	if err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume", err)
	}
	return ports.ConsumeResult{Accepted: true, Record: row.toRecord(accountID, periodKey)}, nil
}

// TryConsumeWithin adds chars only if the result stays within limit.
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

	var row recordRow
	err := l.db.GetContext(ctx, &row,
		consumeQuery+`
		WHERE usage_records.characters_used + EXCLUDED.characters_used <= $5
		RETURNING characters_used, requests_count, updated_at`,
		accountID, periodKey, chars, l.clock.Now().UTC(), limit)
	if errors.Is(err, sql.ErrNoRows) {
		return l.current(ctx, accountID, periodKey, false)
	}
	if err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume", err)
	}
	return ports.ConsumeResult{Accepted: true, Record: row.toRecord(accountID, periodKey)}, nil
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
		WHERE (length(period_key) = 10 AND period_key < $1)
		   OR (length(period_key) = 7 AND period_key < $2)
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
