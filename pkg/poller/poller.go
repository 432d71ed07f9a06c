// Package poller provides a bounded polling loop for clients waiting on an
// asynchronous assessment to reach a terminal state.
package poller

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when the maximum number of polls passed
// without observing a terminal state.
var ErrAttemptsExhausted = errors.New("polling attempts exhausted before a terminal state")

// Fetch queries the current state once. It returns the latest observation and
// whether that observation is terminal.
type Fetch[T any] func(ctx context.Context) (T, bool, error)

// Poller repeatedly fetches until a terminal observation, a fetch error, the
// attempt budget, or context cancellation stops it.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int

	// sleep is replaceable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a poller with the given cadence and attempt budget.
func New(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 30
	}
	return &Poller{
		Interval:    interval,
		MaxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}
}

// Poll runs the loop and returns the last observation. A terminal observation
// returns nil error; exhausting the budget returns the last observation with
// ErrAttemptsExhausted.
func Poll[T any](ctx context.Context, p *Poller, fetch Fetch[T]) (T, error) {
	var last T
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.Interval); err != nil {
				return last, err
			}
		}

		observation, terminal, err := fetch(ctx)
		if err != nil {
			return last, err
		}
		last = observation
		if terminal {
			return last, nil
		}
	}
	return last, ErrAttemptsExhausted
}

// WithSleep replaces the waiting primitive, letting tests drive the loop
// without real time passing.
func (p *Poller) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Poller {
	p.sleep = sleep
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
