// Package clock provides Clock implementations.
package clock

import (
	"sync"
	"time"

	"github.com/artpar/speechquota/ports"
)

// Real returns the actual current time.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now()
}

// NewTicker returns a ticker backed by time.Ticker.
func (Real) NewTicker(d time.Duration) ports.Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// fakeTickBuffer bounds how many ticks a fake ticker holds before dropping.
const fakeTickBuffer = 1024

// Fake provides a controllable clock for testing.
// Tickers created from a Fake fire only when the clock is advanced.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
	tickers map[*fakeTicker]struct{}
	changed chan struct{}
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{
		current: t,
		tickers: make(map[*fakeTicker]struct{}),
		changed: make(chan struct{}),
	}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time without firing tickers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the fake time forward by duration d and fires every
// ticker once per interval boundary crossed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current = f.current.Add(d)
	for t := range f.tickers {
		for !t.next.After(f.current) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

// NewTicker creates a ticker that fires on Advance.
func (f *Fake) NewTicker(d time.Duration) ports.Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		clock:  f,
		ch:     make(chan time.Time, fakeTickBuffer),
		period: d,
		next:   f.current.Add(d),
	}
	f.tickers[t] = struct{}{}
	f.notifyLocked()
	return t
}

// Tickers returns the number of running tickers.
func (f *Fake) Tickers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.tickers)
}

// BlockUntilTickers waits until at least n tickers are running.
func (f *Fake) BlockUntilTickers(n int) {
	for {
		f.mu.RLock()
		count := len(f.tickers)
		changed := f.changed
		f.mu.RUnlock()

		if count >= n {
			return
		}
		<-changed
	}
}

func (f *Fake) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}

type fakeTicker struct {
	clock  *Fake
	ch     chan time.Time
	period time.Duration
	next   time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.tickers[t]; ok {
		delete(t.clock.tickers, t)
		t.clock.notifyLocked()
	}
}

// Ensure interface compliance.
var (
	_ ports.Clock = Real{}
	_ ports.Clock = (*Fake)(nil)
)
