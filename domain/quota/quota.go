// Package quota provides pure functions for admission decisions.
// All functions are deterministic with no side effects.
package quota

import (
	"fmt"
	"strings"

	"github.com/artpar/speechquota/domain/plan"
	"github.com/artpar/speechquota/domain/usage"
)

// Reason explains why a request was denied.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonPerRequestLimit  Reason = "per_request_limit_exceeded"
	ReasonPeriodLimit      Reason = "period_limit_exceeded"
	ReasonFormatNotAllowed Reason = "format_not_allowed"
	ReasonWaitCancelled    Reason = "wait_cancelled"
)

// EnforceMode determines what the ledger does with an admitted request.
type EnforceMode string

const (
	// EnforceSoft charges admitted requests unconditionally.
	// Concurrent admissions may overshoot the period cap by at most
	// one request's worth per concurrent request.
	EnforceSoft EnforceMode = "soft"
	// EnforceStrict charges only if the post-increment total stays within the cap.
	EnforceStrict EnforceMode = "strict"
)

// ParseEnforceMode parses an enforcement mode name.
func ParseEnforceMode(s string) (EnforceMode, error) {
	switch m := EnforceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case EnforceSoft, EnforceStrict:
		return m, nil
	case "":
		return EnforceSoft, nil
	}
	return "", fmt.Errorf("unknown enforcement mode %q", s)
}

// Decision is the outcome of evaluating a request (value type).
type Decision struct {
	Allowed     bool
	WaitSeconds int
	Reason      Reason
	Used        int64 // Characters already consumed in the period
	Limit       int64
	Remaining   int64 // Limit - Used, clamped at zero
}

// Evaluate decides whether requested characters may be synthesized.
// Checks run in order: per-request cap, period cap, audio format.
// Both caps are inclusive. Zero characters is always allowed and never waits.
// This is a PURE function.
func Evaluate(limits plan.Limits, rec usage.Record, requested int64, format plan.Format) Decision {
	d := Decision{
		Used:  rec.CharactersUsed,
		Limit: limits.PeriodCharacterCap,
	}
	d.Remaining = limits.PeriodCharacterCap - rec.CharactersUsed
	if d.Remaining < 0 {
		d.Remaining = 0
	}

	switch {
	case requested == 0:
		d.Allowed = true
	case requested > limits.PerRequestCap:
		d.Reason = ReasonPerRequestLimit
	case rec.CharactersUsed+requested > limits.PeriodCharacterCap:
		d.Reason = ReasonPeriodLimit
	case !limits.AllowsFormat(format):
		d.Reason = ReasonFormatNotAllowed
	default:
		d.Allowed = true
		d.WaitSeconds = limits.WaitSeconds
	}

	return d
}

// Deny builds a denied decision carrying only a reason.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}
