package clock_test

import (
	"testing"
	"time"

	"github.com/artpar/speechquota/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	c := clock.Real{}

	before := time.Now()
	got := c.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestReal_Ticker(t *testing.T) {
	tk := clock.Real{}.NewTicker(time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestFake_SetAndAdvance(t *testing.T) {
	initial := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := clock.NewFake(initial)

	if got := c.Now(); !got.Equal(initial) {
		t.Errorf("Now() = %v, want %v", got, initial)
	}

	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(initial.Add(time.Hour)) {
		t.Errorf("after Advance Now() = %v", got)
	}

	later := time.Date(2025, 12, 25, 10, 30, 0, 0, time.UTC)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("after Set Now() = %v, want %v", got, later)
	}
}

func TestFake_TickerFiresPerInterval(t *testing.T) {
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(500 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before its interval")
	default:
	}

	c.Advance(3 * time.Second)
	got := 0
	for {
		select {
		case <-tk.C():
			got++
			continue
		default:
		}
		break
	}
	if got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
}

func TestFake_StoppedTickerDoesNotFire(t *testing.T) {
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	tk.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.Tickers() != 0 {
		t.Errorf("Tickers() = %d, want 0", c.Tickers())
	}
}

func TestFake_BlockUntilTickers(t *testing.T) {
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		c.BlockUntilTickers(1)
		close(done)
	}()

	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BlockUntilTickers did not return")
	}
}
