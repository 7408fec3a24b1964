// Package redis provides a Redis-backed usage ledger for multi-instance deployments.
//
// Each (account, period) counter lives in a hash at "{prefix}usage:{account}:{period}"
// with fields c (characters), r (requests) and u (updated_at, unix ms). Keys expire
// after the retention of their period kind, so Prune only has to catch stragglers.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/artpar/speechquota/adapters/clock"
	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/usage"
	"github.com/artpar/speechquota/ports"
)

const backend = "redis"

// DefaultKeyPrefix namespaces all ledger keys.
const DefaultKeyPrefix = "speechquota:"

// luaConsume atomically checks and adds characters.
//
// KEYS[1] = counter hash
// ARGV[1] = characters to add
// ARGV[2] = limit (negative means uncapped)
// ARGV[3] = now, unix ms
// ARGV[4] = ttl seconds (0 leaves the key persistent)
//
// Returns {accepted, characters, requests, updated_at}.
const luaConsume = `
local used = tonumber(redis.call('HGET', KEYS[1], 'c') or '0')
local cost = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if limit >= 0 and used + cost > limit then
    local reqs = tonumber(redis.call('HGET', KEYS[1], 'r') or '0')
    local updated = tonumber(redis.call('HGET', KEYS[1], 'u') or '0')
    return {0, used, reqs, updated}
end
used = redis.call('HINCRBY', KEYS[1], 'c', cost)
local reqs = redis.call('HINCRBY', KEYS[1], 'r', 1)
redis.call('HSET', KEYS[1], 'u', ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
    redis.call('EXPIRE', KEYS[1], ttl)
end
return {1, used, reqs, tonumber(ARGV[3])}
`

// LedgerConfig configures the Redis ledger.
type LedgerConfig struct {
	KeyPrefix string
	Clock     ports.Clock
}

// Ledger implements ports.CappedLedger on Redis.
type Ledger struct {
	rdb    *redis.Client
	prefix string
	clock  ports.Clock
	script *redis.Script
}

// NewLedger creates a ledger over an existing client.
func NewLedger(rdb *redis.Client, cfg LedgerConfig) *Ledger {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Ledger{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		clock:  cfg.Clock,
		script: redis.NewScript(luaConsume),
	}
}

func (l *Ledger) key(accountID, periodKey string) string {
	return l.prefix + "usage:" + accountID + ":" + periodKey
}

// Read returns the record for the key, or a zero record if none exists.
func (l *Ledger) Read(ctx context.Context, accountID, periodKey string) (usage.Record, error) {
	vals, err := l.rdb.HMGet(ctx, l.key(accountID, periodKey), "c", "r", "u").Result()
	if err != nil {
		return usage.Record{}, ports.NewStorageError(backend, "read", err)
	}
	rec := usage.Record{AccountID: accountID, PeriodKey: periodKey}
	rec.CharactersUsed = parseInt(vals[0])
	rec.RequestsCount = parseInt(vals[1])
	if ms := parseInt(vals[2]); ms > 0 {
		rec.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}

// TryConsume atomically adds chars to the counter.
func (l *Ledger) TryConsume(ctx context.Context, accountID, periodKey string, chars int64) (ports.ConsumeResult, error) {
	return l.consume(ctx, accountID, periodKey, chars, -1)
}

// TryConsumeWithin adds chars only if the result stays within limit.
func (l *Ledger) TryConsumeWithin(ctx context.Context, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	if limit < 0 {
		limit = 0
	}
	return l.consume(ctx, accountID, periodKey, chars, limit)
}

func (l *Ledger) consume(ctx context.Context, accountID, periodKey string, chars, limit int64) (ports.ConsumeResult, error) {
	if chars < 0 {
		return ports.ConsumeResult{}, ports.ErrInvalidAmount
	}
	if chars == 0 {
		rec, err := l.Read(ctx, accountID, periodKey)
		if err != nil {
			return ports.ConsumeResult{}, err
		}
		return ports.ConsumeResult{Accepted: true, Record: rec}, nil
	}

	var ttl int64
	if kind, ok := period.KindOfKey(periodKey); ok {
		ttl = int64(period.TTL(kind) / time.Second)
	}

	now := l.clock.Now().UTC()
	out, err := l.script.Run(ctx, l.rdb, []string{l.key(accountID, periodKey)},
		chars, limit, now.UnixMilli(), ttl).Int64Slice()
	if err != nil {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume", err)
	}
	if len(out) != 4 {
		return ports.ConsumeResult{}, ports.NewStorageError(backend, "consume",
			fmt.Errorf("unexpected script reply of %d values", len(out)))
	}

	rec := usage.Record{
		AccountID:      accountID,
		PeriodKey:      periodKey,
		CharactersUsed: out[1],
		RequestsCount:  out[2],
	}
	if out[3] > 0 {
		rec.UpdatedAt = time.UnixMilli(out[3]).UTC()
	}
	return ports.ConsumeResult{Accepted: out[0] == 1, Record: rec}, nil
}

// Prune deletes counters of periods older than the period containing before.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	dailyCutoff := period.Key(period.Daily, before)
	monthlyCutoff := period.Key(period.Monthly, before)

	var removed int64
	iter := l.rdb.Scan(ctx, 0, l.prefix+"usage:*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		i := strings.LastIndexByte(k, ':')
		if i < 0 {
			continue
		}
		periodKey := k[i+1:]

		kind, ok := period.KindOfKey(periodKey)
		if !ok {
			continue
		}
		stale := (kind == period.Daily && periodKey < dailyCutoff) ||
			(kind == period.Monthly && periodKey < monthlyCutoff)
		if !stale {
			continue
		}

		n, err := l.rdb.Del(ctx, k).Result()
		if err != nil {
			return removed, ports.NewStorageError(backend, "prune", err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, ports.NewStorageError(backend, "prune", err)
	}
	return removed, nil
}

// HealthCheck pings the server.
func (l *Ledger) HealthCheck(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func parseInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Ensure interface compliance.
var (
	_ ports.CappedLedger = (*Ledger)(nil)
	_ ports.LedgerPruner = (*Ledger)(nil)
)
