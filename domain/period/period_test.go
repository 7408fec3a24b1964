package period

import (
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		now  time.Time
		want string
	}{
		{"daily", Daily, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), "2024-03-15"},
		{"monthly", Monthly, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), "2024-03"},
		{"daily last nanosecond", Daily, time.Date(2024, 3, 15, 23, 59, 59, 999999999, time.UTC), "2024-03-15"},
		{"daily midnight", Daily, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), "2024-03-16"},
		{"monthly last day", Monthly, time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC), "2024-02"},
		{"monthly year wrap", Monthly, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "2025-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.kind, tt.now); got != tt.want {
				t.Errorf("Key() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestKey_UsesUTC(t *testing.T) {
	// 23:30 on the 15th in UTC-5 is already the 16th in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	now := time.Date(2024, 3, 15, 23, 30, 0, 0, loc)

	if got := Key(Daily, now); got != "2024-03-16" {
		t.Errorf("Key() = %s, want 2024-03-16", got)
	}
}

func TestNextReset(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		now  time.Time
		want time.Time
	}{
		{"daily", Daily, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)},
		{"daily at midnight", Daily, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)},
		{"daily month end", Daily, time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly", Monthly, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly december", Monthly, time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextReset(tt.kind, tt.now); !got.Equal(tt.want) {
				t.Errorf("NextReset() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextReset_IsStartOfNextKey(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	for _, kind := range []Kind{Daily, Monthly} {
		reset := NextReset(kind, now)
		if Key(kind, reset) == Key(kind, now) {
			t.Errorf("%s: key at reset = key now (%s)", kind, Key(kind, now))
		}
		if Key(kind, reset.Add(-time.Nanosecond)) != Key(kind, now) {
			t.Errorf("%s: instant before reset left the current period", kind)
		}
	}
}

func TestBounds(t *testing.T) {
	start, end, err := Bounds(Monthly, "2024-02")
	if err != nil {
		t.Fatalf("Bounds error: %v", err)
	}
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}

	if _, _, err := Bounds(Daily, "2024-02"); err == nil {
		t.Error("expected error for monthly key parsed as daily")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("daily"); err != nil || k != Daily {
		t.Errorf("ParseKind(daily) = %v, %v", k, err)
	}
	if _, err := ParseKind("weekly"); err == nil {
		t.Error("expected error for weekly")
	}
}

func TestKindOfKey(t *testing.T) {
	if k, ok := KindOfKey("2024-03-15"); !ok || k != Daily {
		t.Errorf("KindOfKey(daily) = %v, %v", k, ok)
	}
	if k, ok := KindOfKey("2024-03"); !ok || k != Monthly {
		t.Errorf("KindOfKey(monthly) = %v, %v", k, ok)
	}
	if _, ok := KindOfKey("2024"); ok {
		t.Error("KindOfKey(2024) should fail")
	}
}
