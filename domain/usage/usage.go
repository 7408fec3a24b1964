// Package usage provides usage record and summary value types.
// All functions are deterministic with no side effects.
package usage

import (
	"time"

	"github.com/artpar/speechquota/domain/period"
)

// NearLimitPct is the usage percentage at which an account is near its limit.
const NearLimitPct = 80.0

// Record is the running counter for one account in one period (value type).
// The zero Record means "nothing consumed yet".
type Record struct {
	AccountID      string
	PeriodKey      string
	CharactersUsed int64
	RequestsCount  int64
	UpdatedAt      time.Time
}

// Summary is the read-only usage picture shown to a caller.
type Summary struct {
	AccountID       string
	PlanID          string
	PeriodKind      period.Kind
	PeriodKey       string
	Used            int64
	Limit           int64
	Remaining       int64
	Requests        int64
	UsagePercentage float64
	IsNearLimit     bool
	IsOverLimit     bool
	NextReset       time.Time
}

// Summarize derives a Summary from a record and the plan's period cap.
// This is a PURE function.
func Summarize(rec Record, limit int64, kind period.Kind, now time.Time) Summary {
	s := Summary{
		AccountID:  rec.AccountID,
		PeriodKind: kind,
		PeriodKey:  period.Key(kind, now),
		Used:       rec.CharactersUsed,
		Limit:      limit,
		Requests:   rec.RequestsCount,
		NextReset:  period.NextReset(kind, now),
	}

	s.Remaining = limit - rec.CharactersUsed
	if s.Remaining < 0 {
		s.Remaining = 0
	}

	if limit > 0 {
		s.UsagePercentage = float64(rec.CharactersUsed) / float64(limit) * 100
	}
	s.IsNearLimit = s.UsagePercentage >= NearLimitPct
	s.IsOverLimit = s.UsagePercentage >= 100

	return s
}
