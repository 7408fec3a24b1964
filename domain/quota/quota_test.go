package quota

import (
	"testing"

	"github.com/artpar/speechquota/domain/period"
	"github.com/artpar/speechquota/domain/plan"
	"github.com/artpar/speechquota/domain/usage"
)

func freeLimits() plan.Limits {
	return plan.Limits{
		PeriodKind:         period.Daily,
		PeriodCharacterCap: 1000,
		PerRequestCap:      500,
		WaitSeconds:        15,
		AudioFormats:       []plan.Format{plan.FormatMP3},
		Priority:           plan.PriorityLow,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		used      int64
		requested int64
		format    plan.Format
		allowed   bool
		reason    Reason
	}{
		{"fresh period", 0, 300, plan.FormatMP3, true, ReasonNone},
		{"per-request cap inclusive", 0, 500, "", true, ReasonNone},
		{"per-request cap exceeded", 0, 501, "", false, ReasonPerRequestLimit},
		{"period cap inclusive", 700, 300, "", true, ReasonNone},
		{"period cap exceeded", 800, 300, "", false, ReasonPeriodLimit},
		{"zero chars at cap", 1000, 0, "", true, ReasonNone},
		{"zero chars over cap", 1200, 0, "", true, ReasonNone},
		{"zero chars unlisted format", 0, 0, plan.FormatWAV, true, ReasonNone},
		{"per-request checked first", 900, 600, "", false, ReasonPerRequestLimit},
		{"format not allowed", 0, 10, plan.FormatWAV, false, ReasonFormatNotAllowed},
		{"period checked before format", 990, 20, plan.FormatWAV, false, ReasonPeriodLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(freeLimits(), usage.Record{CharactersUsed: tt.used}, tt.requested, tt.format)

			if d.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.allowed)
			}
			if d.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluate_WaitOnlyWhenAllowed(t *testing.T) {
	allowed := Evaluate(freeLimits(), usage.Record{}, 100, "")
	if allowed.WaitSeconds != 15 {
		t.Errorf("allowed WaitSeconds = %d, want 15", allowed.WaitSeconds)
	}

	denied := Evaluate(freeLimits(), usage.Record{}, 501, "")
	if denied.WaitSeconds != 0 {
		t.Errorf("denied WaitSeconds = %d, want 0", denied.WaitSeconds)
	}

	empty := Evaluate(freeLimits(), usage.Record{CharactersUsed: 1200}, 0, "")
	if !empty.Allowed || empty.WaitSeconds != 0 {
		t.Errorf("zero-character Decision = %+v, want allowed without wait", empty)
	}
}

func TestEvaluate_NoWaitPlan(t *testing.T) {
	l := freeLimits()
	l.WaitSeconds = 0

	d := Evaluate(l, usage.Record{}, 100, "")
	if !d.Allowed || d.WaitSeconds != 0 {
		t.Errorf("Decision = %+v, want allowed without wait", d)
	}
}

func TestEvaluate_Remaining(t *testing.T) {
	d := Evaluate(freeLimits(), usage.Record{CharactersUsed: 700}, 0, "")
	if d.Remaining != 300 || d.Used != 700 || d.Limit != 1000 {
		t.Errorf("Decision = %+v", d)
	}

	over := Evaluate(freeLimits(), usage.Record{CharactersUsed: 1300}, 0, "")
	if over.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0 when over cap", over.Remaining)
	}
}

// Scenario: free plan at 800/1000 asks for 300.
func TestEvaluate_FreePlanDeniedNearCap(t *testing.T) {
	d := Evaluate(freeLimits(), usage.Record{CharactersUsed: 800}, 300, "")
	if d.Allowed || d.Reason != ReasonPeriodLimit {
		t.Errorf("Decision = %+v, want period limit deny", d)
	}
}

func TestParseEnforceMode(t *testing.T) {
	tests := []struct {
		in      string
		want    EnforceMode
		wantErr bool
	}{
		{"", EnforceSoft, false},
		{"soft", EnforceSoft, false},
		{"STRICT", EnforceStrict, false},
		{"hard", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnforceMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEnforceMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseEnforceMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
