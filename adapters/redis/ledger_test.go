package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/adapters/ledgertest"
	"github.com/artpar/speechquota/adapters/redis"
	"github.com/artpar/speechquota/ports"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func TestLedger_Contract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledgertest.Ledger {
		_, client := setupTestRedis(t)
		return redis.NewLedger(client, redis.LedgerConfig{})
	})
}

func TestLedger_KeyLayoutAndTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	fake := clock.NewFake(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	ledger := redis.NewLedger(client, redis.LedgerConfig{KeyPrefix: "tts:", Clock: fake})
	ctx := context.Background()

	res, err := ledger.TryConsume(ctx, "acct-1", "2024-03-15", 120)
	require.NoError(t, err)
	assert.True(t, res.Record.UpdatedAt.Equal(fake.Now()))

	_, err = ledger.TryConsume(ctx, "acct-1", "2024-03", 5)
	require.NoError(t, err)

	assert.True(t, mr.Exists("tts:usage:acct-1:2024-03-15"))
	assert.Equal(t, "120", mr.HGet("tts:usage:acct-1:2024-03-15", "c"))
	assert.Equal(t, 48*time.Hour, mr.TTL("tts:usage:acct-1:2024-03-15"))
	assert.Equal(t, 62*24*time.Hour, mr.TTL("tts:usage:acct-1:2024-03"))
}

func TestLedger_ExpiredCounterReadsZero(t *testing.T) {
	mr, client := setupTestRedis(t)
	ledger := redis.NewLedger(client, redis.LedgerConfig{})
	ctx := context.Background()

	_, err := ledger.TryConsume(ctx, "acct-1", "2024-03-15", 300)
	require.NoError(t, err)

	mr.FastForward(49 * time.Hour)

	rec, err := ledger.Read(ctx, "acct-1", "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.CharactersUsed)
}

func TestLedger_UnreachableIsStorageError(t *testing.T) {
	mr, client := setupTestRedis(t)
	ledger := redis.NewLedger(client, redis.LedgerConfig{})
	mr.Close()

	_, err := ledger.TryConsume(context.Background(), "acct-1", "2024-03", 1)
	assert.True(t, errors.Is(err, ports.ErrStorageUnavailable))

	_, err = ledger.Read(context.Background(), "acct-1", "2024-03")
	assert.True(t, errors.Is(err, ports.ErrStorageUnavailable))

	assert.Error(t, ledger.HealthCheck(context.Background()))
}
