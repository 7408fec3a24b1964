package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/adapters/ledgertest"
	"github.com/artpar/speechquota/adapters/postgres"
	"github.com/artpar/speechquota/domain/billing"
	"github.com/artpar/speechquota/ports"
)

// setupTestDB connects to SPEECHQUOTA_TEST_POSTGRES_DSN and empties the tables.
func setupTestDB(t *testing.T) *postgres.DB {
	t.Helper()

	dsn := os.Getenv("SPEECHQUOTA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SPEECHQUOTA_TEST_POSTGRES_DSN not set")
	}

	db, err := postgres.Open(postgres.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, "TRUNCATE usage_records, subscriptions")
	require.NoError(t, err)

	return db
}

func TestLedger_Contract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Ledger {
		return postgres.NewLedger(setupTestDB(t), nil)
	})
}

func TestLedger_UpdatedAtFromClock(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	ledger := postgres.NewLedger(setupTestDB(t), clock.NewFake(now))

	res, err := ledger.TryConsume(context.Background(), "acct-1", "2024-03-15", 5)
	require.NoError(t, err)
	assert.True(t, res.Record.UpdatedAt.Equal(now), "UpdatedAt = %v", res.Record.UpdatedAt)
}

func TestSubscriptionStore(t *testing.T) {
	db := setupTestDB(t)
	store := postgres.NewSubscriptionStore(db)
	ctx := context.Background()

	_, err := store.GetByAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := billing.Subscription{
		ID:               "sub-1",
		AccountID:        "acct-1",
		PlanID:           "pro",
		Status:           billing.SubscriptionStatusActive,
		CurrentPeriodEnd: end,
	}
	require.NoError(t, store.Create(ctx, sub))
	assert.ErrorIs(t, store.Create(ctx, sub), postgres.ErrDuplicate)

	got, err := store.GetByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.PlanID)
	assert.True(t, got.CurrentPeriodEnd.Equal(end))
}
