// Package billing provides the subscription value type read by plan resolution.
package billing

import "time"

// SubscriptionStatus represents subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusInactive  SubscriptionStatus = "inactive"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusInactive,
		SubscriptionStatusExpired, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// Subscription binds an account to a plan (value type).
// Managed by the billing system; this package only reads it.
type Subscription struct {
	ID               string
	AccountID        string
	PlanID           string
	Status           SubscriptionStatus
	CurrentPeriodEnd time.Time // Zero means open-ended
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive returns true if the subscription is in an active state.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// InForce reports whether the subscription grants its plan at now.
func (s Subscription) InForce(now time.Time) bool {
	if !s.IsActive() {
		return false
	}
	return s.CurrentPeriodEnd.IsZero() || now.Before(s.CurrentPeriodEnd)
}
