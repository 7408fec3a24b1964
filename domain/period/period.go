// Package period maps instants to usage period keys.
// All functions are pure: the current time is always passed in.
package period

import (
	"fmt"
	"time"
)

// Kind is the length of a usage accounting period.
type Kind string

const (
	Daily   Kind = "daily"
	Monthly Kind = "monthly"
)

const (
	dailyLayout   = "2006-01-02"
	monthlyLayout = "2006-01"
)

// Valid reports whether k is a known period kind.
func (k Kind) Valid() bool {
	return k == Daily || k == Monthly
}

// ParseKind parses a kind name as written in configuration.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown period kind %q", s)
	}
	return k, nil
}

// Key returns the period key containing now, evaluated in UTC.
// Daily keys look like "2024-03-15", monthly keys like "2024-03".
func Key(kind Kind, now time.Time) string {
	now = now.UTC()
	if kind == Monthly {
		return now.Format(monthlyLayout)
	}
	return now.Format(dailyLayout)
}

// Start returns the first instant of the period containing now.
func Start(kind Kind, now time.Time) time.Time {
	now = now.UTC()
	if kind == Monthly {
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// NextReset returns the first instant of the period after the one containing now.
func NextReset(kind Kind, now time.Time) time.Time {
	start := Start(kind, now)
	if kind == Monthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

// Bounds returns [start, end) of the period identified by key.
func Bounds(kind Kind, key string) (start, end time.Time, err error) {
	layout := dailyLayout
	if kind == Monthly {
		layout = monthlyLayout
	}
	start, err = time.ParseInLocation(layout, key, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse %s period key %q: %w", kind, key, err)
	}
	return start, NextReset(kind, start), nil
}

// TTL is how long a period's counters are worth keeping once the period starts.
// It covers the period itself plus slack for late reads around the boundary.
func TTL(kind Kind) time.Duration {
	if kind == Monthly {
		return 62 * 24 * time.Hour
	}
	return 48 * time.Hour
}

// KindOfKey infers the period kind from the shape of a key.
func KindOfKey(key string) (Kind, bool) {
	switch len(key) {
	case len(dailyLayout):
		return Daily, true
	case len(monthlyLayout):
		return Monthly, true
	}
	return "", false
}
