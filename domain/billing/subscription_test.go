package billing

import (
	"testing"
	"time"
)

func TestSubscription_InForce(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"active open-ended", Subscription{Status: SubscriptionStatusActive}, true},
		{"trialing", Subscription{Status: SubscriptionStatusTrialing, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active but lapsed", Subscription{Status: SubscriptionStatusActive, CurrentPeriodEnd: now.Add(-time.Second)}, false},
		{"active ending exactly now", Subscription{Status: SubscriptionStatusActive, CurrentPeriodEnd: now}, false},
		{"inactive", Subscription{Status: SubscriptionStatusInactive}, false},
		{"expired", Subscription{Status: SubscriptionStatusExpired}, false},
		{"cancelled", Subscription{Status: SubscriptionStatusCancelled, CurrentPeriodEnd: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.InForce(now); got != tt.want {
				t.Errorf("InForce() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionStatus_Valid(t *testing.T) {
	if !SubscriptionStatusTrialing.Valid() {
		t.Error("trialing should be valid")
	}
	if SubscriptionStatus("past_due").Valid() {
		t.Error("past_due should not be valid")
	}
}
