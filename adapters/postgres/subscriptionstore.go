package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/ports"
)

type subscriptionRow struct {
	ID               string       `db:"id"`
	AccountID        string       `db:"account_id"`
	PlanID           string       `db:"plan_id"`
	Status           string       `db:"status"`
	CurrentPeriodEnd sql.NullTime `db:"current_period_end"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// SubscriptionStore implements ports.SubscriptionStore using PostgreSQL.
type SubscriptionStore struct {
	db *DB
}

// NewSubscriptionStore creates a new PostgreSQL subscription store.
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// GetByAccount retrieves the most recent subscription for an account.
func (s *SubscriptionStore) GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, account_id, plan_id, status, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, ports.ErrNotFound
	}
	if err != nil {
		return billing.Subscription{}, ports.NewStorageError(backend, "get subscription", err)
	}

	sub := billing.Subscription{
		ID:        row.ID,
		AccountID: row.AccountID,
		PlanID:    row.PlanID,
		Status:    billing.SubscriptionStatus(row.Status),
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
	if row.CurrentPeriodEnd.Valid {
		sub.CurrentPeriodEnd = row.CurrentPeriodEnd.Time.UTC()
	}
	return sub, nil
}

// Create stores a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub billing.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}
	var periodEnd sql.NullTime
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd = sql.NullTime{Time: sub.CurrentPeriodEnd, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, account_id, plan_id, status, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.AccountID, sub.PlanID, string(sub.Status), periodEnd, sub.CreatedAt, sub.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return ports.NewStorageError(backend, "create subscription", err)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.SubscriptionStore = (*SubscriptionStore)(nil)
