package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/ports"
)

// SubscriptionStore implements ports.SubscriptionStore using SQLite.
type SubscriptionStore struct {
	db *DB
}

// NewSubscriptionStore creates a new SQLite subscription store.
func NewSubscriptionStore(db *DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// GetByAccount retrieves the most recent subscription for an account.
func (s *SubscriptionStore) GetByAccount(ctx context.Context, accountID string) (billing.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, plan_id, status, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID)
	return scanSubscription(row)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, account_id, plan_id, status, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		sub.ID, sub.AccountID, sub.PlanID, string(sub.Status),
		toMillis(sub.CurrentPeriodEnd), toMillis(sub.CreatedAt), toMillis(sub.UpdatedAt),
	)
	if err != nil && isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return ports.NewStorageError(backend, "create subscription", err)
	}
	return nil
}

// UpdateStatus changes a subscription's status.
func (s *SubscriptionStore) UpdateStatus(ctx context.Context, id string, status billing.SubscriptionStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return ports.NewStorageError(backend, "update subscription", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ports.NewStorageError(backend, "update subscription", err)
	}
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func scanSubscription(row *sql.Row) (billing.Subscription, error) {
	var sub billing.Subscription
	var status string
	var periodEnd, createdAt, updatedAt int64

	err := row.Scan(&sub.ID, &sub.AccountID, &sub.PlanID, &status, &periodEnd, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Subscription{}, ports.ErrNotFound
	}
	if err != nil {
		return billing.Subscription{}, ports.NewStorageError(backend, "get subscription", err)
	}

	sub.Status = billing.SubscriptionStatus(status)
	sub.CurrentPeriodEnd = fromMillis(periodEnd)
	sub.CreatedAt = fromMillis(createdAt)
	sub.UpdatedAt = fromMillis(updatedAt)
	return sub, nil
}

// Ensure interface compliance.
var _ ports.SubscriptionStore = (*SubscriptionStore)(nil)
