package wait

import (
	"context"
	"time"

	"github.com/artpar/speechquota/ports"
)

// Runner drives a countdown with one Tick per interval.
type Runner struct {
	clock    ports.Clock
	interval time.Duration
}

// NewRunner creates a runner ticking once per second on clock.
func NewRunner(clock ports.Clock) *Runner {
	return &Runner{clock: clock, interval: time.Second}
}

// Run ticks cd on s until it completes, is aborted, or ctx ends.
// It returns nil on completion, ErrCancelled if the countdown was cancelled
// or superseded, and ctx.Err() if the context ended first. A context
// ending also cancels the countdown so the scheduler returns to idle.
func (r *Runner) Run(ctx context.Context, s *Scheduler, cd *Countdown) error {
	select {
	case <-cd.Done():
		return nil
	default:
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cd.Done():
			return nil
		case <-cd.Aborted():
			return ErrCancelled
		case <-ctx.Done():
			s.abort(cd)
			select {
			case <-cd.Done():
				return nil
			default:
				return ctx.Err()
			}
		case <-ticker.C():
			s.tick(cd)
		}
	}
}
