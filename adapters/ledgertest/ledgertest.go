// Package ledgertest holds the behavioural suite every ledger adapter must pass.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/speechquota/ports"
)

// Ledger is what the suite exercises.
type Ledger interface {
	ports.CappedLedger
	ports.LedgerPruner
}

// Factory returns a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) Ledger

// Run executes the full suite against ledgers produced by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("read missing is zero", func(t *testing.T) { testReadMissing(t, newLedger(t)) })
	t.Run("consume accumulates", func(t *testing.T) { testConsumeAccumulates(t, newLedger(t)) })
	t.Run("zero consume is noop", func(t *testing.T) { testZeroConsume(t, newLedger(t)) })
	t.Run("negative rejected", func(t *testing.T) { testNegative(t, newLedger(t)) })
	t.Run("keys isolated", func(t *testing.T) { testKeysIsolated(t, newLedger(t)) })
	t.Run("concurrent consume", func(t *testing.T) { testConcurrentConsume(t, newLedger(t)) })
	t.Run("capped consume", func(t *testing.T) { testCapped(t, newLedger(t)) })
	t.Run("concurrent capped consume", func(t *testing.T) { testConcurrentCapped(t, newLedger(t)) })
	t.Run("prune", func(t *testing.T) { testPrune(t, newLedger(t)) })
}

func testReadMissing(t *testing.T, l Ledger) {
	ctx := context.Background()

	rec, err := l.Read(ctx, "acct-1", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.CharactersUsed)
	assert.Equal(t, int64(0), rec.RequestsCount)

	// Reading must not create a record that pruning could then find.
	n, err := l.Prune(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testConsumeAccumulates(t *testing.T, l Ledger) {
	ctx := context.Background()

	res, err := l.TryConsume(ctx, "acct-1", "2024-03-15", 300)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(300), res.Record.CharactersUsed)
	assert.Equal(t, int64(1), res.Record.RequestsCount)

	res, err = l.TryConsume(ctx, "acct-1", "2024-03-15", 200)
	require.NoError(t, err)
	assert.Equal(t, int64(500), res.Record.CharactersUsed)
	assert.Equal(t, int64(2), res.Record.RequestsCount)

	rec, err := l.Read(ctx, "acct-1", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", rec.AccountID)
	assert.Equal(t, "2024-03-15", rec.PeriodKey)
	assert.Equal(t, int64(500), rec.CharactersUsed)
	assert.Equal(t, int64(2), rec.RequestsCount)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func testZeroConsume(t *testing.T, l Ledger) {
	ctx := context.Background()

	_, err := l.TryConsume(ctx, "acct-1", "2024-03", 100)
	require.NoError(t, err)

	res, err := l.TryConsume(ctx, "acct-1", "2024-03", 0)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(100), res.Record.CharactersUsed)
	assert.Equal(t, int64(1), res.Record.RequestsCount)
}

func testNegative(t *testing.T, l Ledger) {
	ctx := context.Background()

	_, err := l.TryConsume(ctx, "acct-1", "2024-03", -5)
	assert.ErrorIs(t, err, ports.ErrInvalidAmount)

	_, err = l.TryConsumeWithin(ctx, "acct-1", "2024-03", -5, 100)
	assert.ErrorIs(t, err, ports.ErrInvalidAmount)
}

func testKeysIsolated(t *testing.T, l Ledger) {
	ctx := context.Background()

	_, err := l.TryConsume(ctx, "acct-1", "2024-03-15", 100)
	require.NoError(t, err)
	_, err = l.TryConsume(ctx, "acct-2", "2024-03-15", 7)
	require.NoError(t, err)
	_, err = l.TryConsume(ctx, "acct-1", "2024-03-16", 11)
	require.NoError(t, err)

	cases := []struct {
		account, key string
		want         int64
	}{
		{"acct-1", "2024-03-15", 100},
		{"acct-2", "2024-03-15", 7},
		{"acct-1", "2024-03-16", 11},
		{"acct-2", "2024-03-16", 0},
	}
	for _, c := range cases {
		rec, err := l.Read(ctx, c.account, c.key)
		require.NoError(t, err)
		assert.Equal(t, c.want, rec.CharactersUsed, "%s/%s", c.account, c.key)
	}
}

func testConcurrentConsume(t *testing.T, l Ledger) {
	ctx := context.Background()
	const workers, chars = 50, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryConsume(ctx, "acct-1", "2024-03-15", chars); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := l.Read(ctx, "acct-1", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*chars), rec.CharactersUsed)
	assert.Equal(t, int64(workers), rec.RequestsCount)
}

func testCapped(t *testing.T, l Ledger) {
	ctx := context.Background()

	res, err := l.TryConsumeWithin(ctx, "acct-1", "2024-03-15", 700, 1000)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = l.TryConsumeWithin(ctx, "acct-1", "2024-03-15", 300, 1000)
	require.NoError(t, err)
	assert.True(t, res.Accepted, "cap is inclusive")
	assert.Equal(t, int64(1000), res.Record.CharactersUsed)

	res, err = l.TryConsumeWithin(ctx, "acct-1", "2024-03-15", 1, 1000)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, int64(1000), res.Record.CharactersUsed)
	assert.Equal(t, int64(2), res.Record.RequestsCount)

	// A first request larger than the cap never creates a record.
	res, err = l.TryConsumeWithin(ctx, "acct-2", "2024-03-15", 1500, 1000)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	rec, err := l.Read(ctx, "acct-2", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.CharactersUsed)
}

func testConcurrentCapped(t *testing.T, l Ledger) {
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.TryConsumeWithin(ctx, "acct-1", "2024-03-15", 100, 1000)
			if err != nil {
				t.Errorf("TryConsumeWithin: %v", err)
				return
			}
			if res.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	rec, err := l.Read(ctx, "acct-1", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.CharactersUsed)
}

func testPrune(t *testing.T, l Ledger) {
	ctx := context.Background()

	for _, key := range []string{"2024-03-13", "2024-03-14", "2024-03-15", "2024-02", "2024-03"} {
		_, err := l.TryConsume(ctx, "acct-1", key, 10)
		require.NoError(t, err)
	}

	n, err := l.Prune(ctx, time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for key, want := range map[string]int64{
		"2024-03-13": 0,
		"2024-03-14": 0,
		"2024-03-15": 10,
		"2024-02":    0,
		"2024-03":    10,
	} {
		rec, err := l.Read(ctx, "acct-1", key)
		require.NoError(t, err)
		assert.Equal(t, want, rec.CharactersUsed, key)
	}
}
